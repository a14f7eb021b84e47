// Package bridge exposes the cache manager and stats reporter to a host runtime
// through promise-style callbacks. Every call settles its promise exactly once,
// either with a plain map value or with a coded rejection.
package bridge
