// Package guard protects the HTTP and websocket boundary.
//
// It provides per-address sliding-window rate limiters (in memory, or shared
// through Redis sorted sets when several instances sit behind one balancer)
// and the input sanitizer that rejects markup and template characters before
// a handler sees them.
package guard
