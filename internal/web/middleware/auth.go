package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/kozaktomas/campus-attendance/internal/constants"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Actor is the authenticated person behind a request. Authentication runs in
// front of this service and forwards the id in the X-Actor-ID header.
type Actor struct {
	ID     string
	Origin string // client address, set by chi's RealIP
}

// WithActor adds the request's Actor to the context. Requests without the
// header get an Actor with an empty ID.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := &Actor{
			ID:     strings.TrimSpace(r.Header.Get(constants.ActorHeader)),
			Origin: clientAddr(r.RemoteAddr),
		}
		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireActor rejects requests that carry no actor id.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := GetActorFromContext(r.Context())
		if actor == nil || actor.ID == "" {
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActorFromContext retrieves the actor from the request context
func GetActorFromContext(ctx context.Context) *Actor {
	actor, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// SetActorInContext adds an actor to the context.
// This is primarily for testing - use WithActor middleware in production.
func SetActorInContext(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// clientAddr strips the port from a host:port remote address. RealIP
// leaves a bare address, which is returned unchanged.
func clientAddr(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
