package audit

import (
	"context"

	"github.com/cuemby/paddock/pkg/types"
)

// Actor is whoever caused an audited action
type Actor struct {
	ID   string
	Type types.ActorType
	IP   string
}

// System is the actor for work the control plane does on its own
var System = Actor{ID: "system", Type: types.ActorSystem}

type actorKey struct{}

// WithActor returns a context carrying actor
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor on ctx, or System if there is none
func ActorFrom(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor
	}
	return System
}
