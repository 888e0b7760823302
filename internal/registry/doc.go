// Package registry implements the process-local connection registry.
//
// The registry owns the live set of real-time connections. Membership is
// the single source of truth for "is this connection still live": broadcast
// consults it at send time, not at fan-out start, so an unregister racing
// an in-flight broadcast simply causes that recipient to be skipped.
package registry
