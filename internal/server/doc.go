// Package server hosts the Fiber HTTP service that fronts the span cache. It
// attaches request IDs and panic recovery, forwards /media/* to the read-through
// proxy when an upstream is configured, and leaves /-/ paths to diagnostics and
// cache control routes registered by the routes subpackage. Dependencies are
// passed in explicitly so tests can swap in fakes.
package server
