package dockercloud

import (
	"context"

	"github.com/openfroyo/dockercloud/pkg/api"
	"github.com/openfroyo/dockercloud/pkg/resource"
)

// Stacks groups stack operations and waits.
type Stacks struct {
	*api.StackClient
	c *Client
}

// WaitUntilRunning waits for stack to reach Running.
func (s *Stacks) WaitUntilRunning(ctx context.Context, stack resource.Resource) (resource.Resource, error) {
	return s.c.WaitForState(ctx, resource.KindStack, stack, resource.StateRunning)
}

// WaitUntilTerminated waits for stack to reach Terminated.
func (s *Stacks) WaitUntilTerminated(ctx context.Context, stack resource.Resource) (resource.Resource, error) {
	return s.c.WaitForState(ctx, resource.KindStack, stack, resource.StateTerminated)
}

// Services groups service operations and waits.
type Services struct {
	*api.ServiceClient
	c *Client
}

// WaitUntilRunning waits for service to reach Running.
func (s *Services) WaitUntilRunning(ctx context.Context, service resource.Resource) (resource.Resource, error) {
	return s.c.WaitForState(ctx, resource.KindService, service, resource.StateRunning)
}

// Containers groups container operations and waits.
type Containers struct {
	*api.ContainerClient
	c *Client
}

// WaitUntilStopped waits for container to reach Stopped.
func (s *Containers) WaitUntilStopped(ctx context.Context, container resource.Resource) (resource.Resource, error) {
	return s.c.WaitForState(ctx, resource.KindContainer, container, resource.StateStopped)
}

// Actions groups action lookups and waits.
type Actions struct {
	*api.ActionClient
	c *Client
}

// WaitUntilSuccess waits for action to reach Success. A nil action
// returns immediately.
func (a *Actions) WaitUntilSuccess(ctx context.Context, action resource.Resource) (resource.Resource, error) {
	return a.c.resolver.WaitUntilSuccess(ctx, action)
}

// Resolve fetches the action referenced by actionURI and waits for it.
func (a *Actions) Resolve(ctx context.Context, actionURI string) (resource.Resource, error) {
	return a.c.resolver.Resolve(ctx, actionURI)
}
