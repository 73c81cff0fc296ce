// Package server exposes the livego HTTP API, the websocket endpoint and the
// media server hooks from a single chi router.
//
// Every request passes the same chain: request id, access log, metrics,
// security headers, audit, the sliding-window rate limiter and the input
// sanitizer. Routes that act on behalf of an account additionally require a
// verified session token. Hook routes skip the sanitizer and token check but
// are still rate limited.
package server
