package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Role names supplied by the identity provider.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// Header names set by the upstream identity provider.
const (
	HeaderActorID     = "X-Actor-ID"
	HeaderActorRole   = "X-Actor-Role"
	HeaderActorBranch = "X-Actor-Branch"
)

// Actor identifies the caller of a ledger operation.
type Actor struct {
	ID       int64
	Role     string
	BranchID int64
}

// Valid reports whether the actor carries an identity.
func (a Actor) Valid() bool {
	return a.ID > 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.Valid()
}

// ActorFromRequest parses the identity headers. The second value is false when
// no usable identity is present.
func ActorFromRequest(r *http.Request) (Actor, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderActorID)), 10, 64)
	if err != nil || id <= 0 {
		return Actor{}, false
	}
	actor := Actor{ID: id, Role: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))}
	if raw := strings.TrimSpace(r.Header.Get(HeaderActorBranch)); raw != "" {
		branch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || branch < 0 {
			return Actor{}, false
		}
		actor.BranchID = branch
	}
	return actor, true
}

// ActorMiddleware attaches the upstream identity to the request context.
// Requests without identity pass through; handlers decide whether one is needed.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := ActorFromRequest(r); ok {
			r = r.WithContext(ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
