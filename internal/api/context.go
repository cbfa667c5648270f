package api

import (
	"context"
)

type ctxKey string

const (
	ctxKeyActor     ctxKey = "actor"
	ctxKeyActorSlot ctxKey = "actor_slot"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   string
	Name string
	// Source records how the identity was established: "token" or "header".
	Source string
}

// WithActor also fills the slot left by RequestLogger, so the outer log line sees the caller.
func WithActor(ctx context.Context, a Actor) context.Context {
	if slot, ok := ctx.Value(ctxKeyActorSlot).(*Actor); ok {
		*slot = a
	}
	return context.WithValue(ctx, ctxKeyActor, a)
}

func withActorSlot(ctx context.Context) (context.Context, *Actor) {
	slot := &Actor{}
	return context.WithValue(ctx, ctxKeyActorSlot, slot), slot
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKeyActor).(Actor)
	if !ok || a.ID == "" {
		return Actor{}, false
	}
	return a, true
}
