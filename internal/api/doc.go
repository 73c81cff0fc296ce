// Package api hosts the HTTP handlers of the livego service.
//
// Handlers decode requests, call the economy processor, the stream lifecycle
// manager or the room hub, and shape responses into the common envelope
// {success, data, message, error, timestamp}. Errors from those layers carry
// an apperr.Kind which WriteError maps to a status code; internal failures
// are rendered with a generic message.
//
// Handlers assume the middleware from internal/server has already applied
// rate limiting, input sanitisation and token verification. Authenticated
// routes read the caller from AccountFromContext and never trust an account
// id supplied in the body.
package api
