// Package lifecycle tracks whether streams are live. It is driven by media
// server callbacks and announces every state change to the stream's room and
// to all connected clients.
package lifecycle
