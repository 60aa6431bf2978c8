package bulk

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

// Mutation is applied to each target of a plan.
type Mutation interface {
	Apply(ctx context.Context, ref client.Ref) error
}

// MutationFunc adapts a function to Mutation.
type MutationFunc func(ctx context.Context, ref client.Ref) error

// Apply calls f.
func (f MutationFunc) Apply(ctx context.Context, ref client.Ref) error {
	return f(ctx, ref)
}

// Updater is the part of the gateway UpdateFields needs.
type Updater interface {
	Fetch(ctx context.Context, ref client.Ref) (client.Snapshot, error)
	Update(ctx context.Context, ref client.Ref, fields map[string]any, token client.Token) (client.Snapshot, error)
}

// Deleter is the part of the gateway Delete needs.
type Deleter interface {
	Delete(ctx context.Context, ref client.Ref) (client.DeleteResult, error)
}

// Actor is the part of the gateway Action needs.
type Actor interface {
	Act(ctx context.Context, ref client.Ref, action, method string, body any) (map[string]any, error)
}

// UpdateFields reads each target for its token and updates it. A conflict
// between the read and the write fails the target; it is not retried.
func UpdateFields(gw Updater, fields map[string]any) Mutation {
	return MutationFunc(func(ctx context.Context, ref client.Ref) error {
		snap, err := gw.Fetch(ctx, ref)
		if err != nil {
			return err
		}
		tok, err := snap.UpdateToken()
		if err != nil {
			return err
		}
		_, err = gw.Update(ctx, ref, fields, tok)
		return err
	})
}

// Delete deletes each target.
func Delete(gw Deleter) Mutation {
	return MutationFunc(func(ctx context.Context, ref client.Ref) error {
		_, err := gw.Delete(ctx, ref)
		return err
	})
}

// Action invokes a sub-resource action (e.g. "comment") on each target.
func Action(gw Actor, action, method string, body any) Mutation {
	return MutationFunc(func(ctx context.Context, ref client.Ref) error {
		_, err := gw.Act(ctx, ref, action, method, body)
		return err
	})
}
