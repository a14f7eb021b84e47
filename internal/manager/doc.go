// Package manager owns the media cache instance for one cache root. A Manager
// replaces the process-wide singleton: the host constructs it once, passes it to
// the bridge, proxy and stats reporter, and the first Initialize (or
// GetOrCreateDefault) call decides the folder and capacity for the lifetime of
// the manager. Later calls report StatusAlreadyInitialized instead of silently
// reconfiguring anything.
package manager
