package convergence

import (
	"context"
	"fmt"

	"github.com/openfroyo/dockercloud/pkg/resource"
)

// ActionGetter fetches actions by uuid.
type ActionGetter interface {
	Get(ctx context.Context, uuid string) (resource.Resource, error)
}

// ActionResolver waits for asynchronous actions to succeed.
type ActionResolver struct {
	engine  *Engine
	actions ActionGetter
}

// NewActionResolver creates a resolver that polls actions through getter.
func NewActionResolver(engine *Engine, getter ActionGetter) *ActionResolver {
	return &ActionResolver{engine: engine, actions: getter}
}

// WaitUntilSuccess waits for action to reach Success. A nil action, as
// returned by operations that had nothing to do, resolves immediately.
func (r *ActionResolver) WaitUntilSuccess(ctx context.Context, action resource.Resource) (resource.Resource, error) {
	if action == nil {
		return nil, nil
	}
	id := action.UUID()
	if id == "" {
		id = resource.ExtractUUID(action.ResourceURI())
	}
	return r.engine.WaitUntil(ctx, Target{
		Kind:     resource.KindAction,
		UUID:     id,
		Fetch:    r.actions.Get,
		Desired:  resource.StateIs(resource.StateSuccess),
		Snapshot: action,
	})
}

// Resolve waits for the action referenced by actionURI, as found in the
// X-DockerCloud-Action-URI response header.
func (r *ActionResolver) Resolve(ctx context.Context, actionURI string) (resource.Resource, error) {
	id, err := resource.ParseUUID(actionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve action: %w", err)
	}
	action, err := r.actions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch action %s: %w", id, err)
	}
	return r.WaitUntilSuccess(ctx, action)
}
