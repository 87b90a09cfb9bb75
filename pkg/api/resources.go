package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openfroyo/dockercloud/pkg/resource"
)

// ErrMissingActionHeader is returned when a mutating call that should start
// an action responds without an action reference.
var ErrMissingActionHeader = errors.New("response carries no action reference")

// resourceClient implements the operations shared by every resource kind.
type resourceClient struct {
	cli  *Client
	base string
	kind resource.Kind
}

func (r resourceClient) collectionPath() string {
	return r.base + "/" + string(r.kind) + "/"
}

func (r resourceClient) path(uuid string, op ...string) string {
	p := r.collectionPath() + url.PathEscape(uuid) + "/"
	for _, o := range op {
		p += o + "/"
	}
	return p
}

// Get fetches the resource with the given uuid.
func (r resourceClient) Get(ctx context.Context, uuid string) (resource.Resource, error) {
	if uuid == "" {
		return nil, fmt.Errorf("%s uuid is required", r.kind)
	}
	resp, err := r.cli.get(ctx, r.path(uuid), nil)
	if err != nil {
		return nil, err
	}
	return decodeResource(resp)
}

// List returns every resource matching query, following pagination links.
func (r resourceClient) List(ctx context.Context, query url.Values) ([]resource.Resource, error) {
	var out []resource.Resource
	next := r.collectionPath()
	for next != "" {
		resp, err := r.cli.get(ctx, next, query)
		if err != nil {
			return nil, err
		}
		page, err := decodeList(resp)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Objects...)
		// The next link already carries the filters.
		next, query = page.Meta.Next, nil
	}
	return out, nil
}

// findLive returns the first listed resource that is not Terminated, or
// nil if there is none.
func (r resourceClient) findLive(ctx context.Context, query url.Values, match func(resource.Resource) bool) (resource.Resource, error) {
	items, err := r.List(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.State() != resource.StateTerminated && match(item) {
			return item, nil
		}
	}
	return nil, nil
}

// Create creates a resource from props and returns it.
func (r resourceClient) Create(ctx context.Context, props any) (resource.Resource, error) {
	resp, err := r.cli.post(ctx, r.collectionPath(), props)
	if err != nil {
		return nil, err
	}
	return decodeResource(resp)
}

// Update patches the resource with props and returns the updated body.
func (r resourceClient) Update(ctx context.Context, uuid string, props any) (resource.Resource, error) {
	resp, err := r.cli.patch(ctx, r.path(uuid), props)
	if err != nil {
		return nil, err
	}
	return decodeResource(resp)
}

// Remove terminates res and returns the action doing it. An already
// Terminated resource is left alone and a nil action is returned.
func (r resourceClient) Remove(ctx context.Context, res resource.Resource) (resource.Resource, error) {
	if res.State() == resource.StateTerminated {
		return nil, nil
	}
	if res.UUID() == "" {
		return nil, fmt.Errorf("%s uuid is required", r.kind)
	}
	resp, err := r.cli.delete(ctx, r.path(res.UUID()))
	if err != nil {
		return nil, err
	}
	return r.cli.followAction(ctx, resp)
}

// Start starts the resource and returns the action doing it.
func (r resourceClient) Start(ctx context.Context, uuid string) (resource.Resource, error) {
	return r.do(ctx, uuid, "start")
}

// Stop stops the resource and returns the action doing it.
func (r resourceClient) Stop(ctx context.Context, uuid string) (resource.Resource, error) {
	return r.do(ctx, uuid, "stop")
}

// Redeploy redeploys the resource and returns the action doing it.
func (r resourceClient) Redeploy(ctx context.Context, uuid string) (resource.Resource, error) {
	return r.do(ctx, uuid, "redeploy")
}

func (r resourceClient) do(ctx context.Context, uuid, op string) (resource.Resource, error) {
	if uuid == "" {
		return nil, fmt.Errorf("%s uuid is required", r.kind)
	}
	resp, err := r.cli.post(ctx, r.path(uuid, op), nil)
	if err != nil {
		return nil, err
	}
	return r.cli.followAction(ctx, resp)
}

// followAction fetches the action referenced by a mutating response. A
// response without the header yields a nil action.
func (c *Client) followAction(ctx context.Context, resp *http.Response) (resource.Resource, error) {
	ensureReaderClosed(resp)

	uri := resp.Header.Get(ActionURIHeader)
	if uri == "" {
		c.logger.Debug().Msg("no action reference in response")
		return nil, nil
	}
	id, err := resource.ParseUUID(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingActionHeader, err)
	}
	return c.Actions.Get(ctx, id)
}

// fetchAll resolves a list of resource URIs with get.
func fetchAll(ctx context.Context, uris []string, get func(context.Context, string) (resource.Resource, error)) ([]resource.Resource, error) {
	out := make([]resource.Resource, 0, len(uris))
	for _, uri := range uris {
		id, err := resource.ParseUUID(uri)
		if err != nil {
			return nil, err
		}
		res, err := get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// StackClient manages stacks.
type StackClient struct {
	resourceClient
}

// FindByName returns the first stack named name that is not Terminated,
// or nil if there is none.
func (s *StackClient) FindByName(ctx context.Context, name string) (resource.Resource, error) {
	return s.findLive(ctx, nil, func(r resource.Resource) bool { return r.Name() == name })
}

// Services fetches every service of stack.
func (s *StackClient) Services(ctx context.Context, stack resource.Resource) ([]resource.Resource, error) {
	return fetchAll(ctx, stack.URIs("services"), s.cli.Services.Get)
}

// ServiceClient manages services.
type ServiceClient struct {
	resourceClient
}

// FindByName returns the first service named name that is not Terminated,
// or nil if there is none.
func (s *ServiceClient) FindByName(ctx context.Context, name string) (resource.Resource, error) {
	return s.findLive(ctx, url.Values{"name": {name}}, func(resource.Resource) bool { return true })
}

// Containers fetches every container of service.
func (s *ServiceClient) Containers(ctx context.Context, service resource.Resource) ([]resource.Resource, error) {
	return fetchAll(ctx, service.URIs("containers"), s.cli.Containers.Get)
}

// ContainerClient manages containers.
type ContainerClient struct {
	resourceClient
}

// ActionClient reads actions from the audit API.
type ActionClient struct {
	r resourceClient
}

// Get fetches the action with the given uuid.
func (a *ActionClient) Get(ctx context.Context, uuid string) (resource.Resource, error) {
	return a.r.Get(ctx, uuid)
}

// List returns the actions matching query, most recent first.
func (a *ActionClient) List(ctx context.Context, query url.Values) ([]resource.Resource, error) {
	return a.r.List(ctx, query)
}

// Cancel cancels a pending or in-progress action and returns its new body.
func (a *ActionClient) Cancel(ctx context.Context, uuid string) (resource.Resource, error) {
	resp, err := a.r.cli.post(ctx, a.r.path(uuid, "cancel"), nil)
	if err != nil {
		return nil, err
	}
	return decodeResource(resp)
}
