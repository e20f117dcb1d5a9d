package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

// ActorKey is the context key for the acting user's ID.
const ActorKey contextKey = "actor_id"

// ActorExtractor resolves which local user a request acts on behalf of.
// It checks the X-MJ-User-Id header, then the user_id query parameter,
// and falls back to the node's configured user.
//
// A single node usually speaks for one person, but shared household
// deployments run several users behind one HTTP surface.
func ActorExtractor(defaultUserID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := defaultUserID

			if h := strings.TrimSpace(r.Header.Get("X-MJ-User-Id")); h != "" {
				if id, err := strconv.ParseInt(h, 10, 64); err == nil {
					actor = id
				}
			} else if q := r.URL.Query().Get("user_id"); q != "" {
				if id, err := strconv.ParseInt(q, 10, 64); err == nil {
					actor = id
				}
			}

			ctx := context.WithValue(r.Context(), ActorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor retrieves the acting user's ID from the request context.
func GetActor(ctx context.Context) int64 {
	if v, ok := ctx.Value(ActorKey).(int64); ok {
		return v
	}
	return 0
}
