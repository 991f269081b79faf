// Package identity extracts the acting admin and conversation scope from
// incoming requests into the request context.
package identity

import (
	"context"
	"net/http"
	"strconv"
)

const (
	// ActorHeaderName carries the chat-platform user id of the acting admin.
	ActorHeaderName = "X-Lendops-Actor-ID"
	// ScopeHeaderName carries the conversation scope: the group chat id, or
	// the actor's own id for a private conversation.
	ScopeHeaderName = "X-Lendops-Scope-ID"
)

type contextKey int

const (
	actorIDKey contextKey = iota
	scopeIDKey
)

// ActorIDFromContext extracts the actor id from the request context.
func ActorIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(actorIDKey).(int64); ok {
		return v
	}
	return 0
}

// ScopeIDFromContext extracts the scope id from the request context.
// Falls back to the actor id, matching private-conversation scoping.
func ScopeIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(scopeIDKey).(int64); ok && v != 0 {
		return v
	}
	return ActorIDFromContext(ctx)
}

// Middleware parses the identity headers into the request context. Requests
// without a valid actor id are rejected before reaching any handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID, err := strconv.ParseInt(r.Header.Get(ActorHeaderName), 10, 64)
		if err != nil || actorID == 0 {
			http.Error(w, `{"error": "missing or invalid actor id"}`, http.StatusBadRequest)
			return
		}

		scopeID := actorID
		if raw := r.Header.Get(ScopeHeaderName); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, `{"error": "invalid scope id"}`, http.StatusBadRequest)
				return
			}
			scopeID = parsed
		}

		ctx := context.WithValue(r.Context(), actorIDKey, actorID)
		ctx = context.WithValue(ctx, scopeIDKey, scopeID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
