// Package events carries Docker Cloud audit events from the websocket
// stream to the waiters interested in them.
package events

import (
	"github.com/openfroyo/dockercloud/pkg/resource"
)

// Event is a state-change notification pushed by the audit stream.
type Event struct {
	Type        resource.Kind `json:"type"`
	State       string        `json:"state"`
	ResourceURI string        `json:"resource_uri"`
	Action      string        `json:"action,omitempty"`
	UUID        string        `json:"uuid,omitempty"`
	Parents     []string      `json:"parents,omitempty"`
	Datetime    string        `json:"datetime,omitempty"`
}

// Fields exposes the event as a resource body so the predicates used for
// fetched resources apply to events as well. The uuid is that of the
// resource the event refers to, not of the event itself.
func (e Event) Fields() resource.Resource {
	return resource.Resource{
		"type":         string(e.Type),
		"state":        e.State,
		"resource_uri": e.ResourceURI,
		"uuid":         resource.ExtractUUID(e.ResourceURI),
	}
}

// Refers reports whether the event concerns the resource of the given kind
// and uuid.
func (e Event) Refers(kind resource.Kind, uuid string) bool {
	return e.Type == kind && resource.ContainsUUID(e.ResourceURI, uuid)
}
