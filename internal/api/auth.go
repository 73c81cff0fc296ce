package api

import (
	"context"
	"net/http"

	"livego/internal/apperr"
)

type contextKey string

const accountContextKey contextKey = "authenticatedAccount"

// Identity is the caller established from a verified session token.
type Identity struct {
	ID   string
	Name string
}

// ContextWithAccount stores the authenticated caller in ctx.
func ContextWithAccount(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, accountContextKey, identity)
}

// AccountFromContext retrieves the authenticated caller if present.
func AccountFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(accountContextKey).(Identity)
	return identity, ok && identity.ID != ""
}

func requireAccount(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	identity, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, apperr.Unauthorized("authentication required"))
		return Identity{}, false
	}
	return identity, true
}
