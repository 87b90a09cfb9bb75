// Package resource defines the values exchanged with the Docker Cloud API:
// resource bodies, resource kinds, states and the field-subset predicates
// used to decide whether a resource has reached a desired state.
package resource

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a Docker Cloud resource. It matches the
// "type" field carried by events on the audit stream.
type Kind string

const (
	KindStack     Kind = "stack"
	KindService   Kind = "service"
	KindContainer Kind = "container"
	KindAction    Kind = "action"
)

// Kinds lists every resource kind the client knows about.
var Kinds = []Kind{KindStack, KindService, KindContainer, KindAction}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// Resource is a decoded JSON resource body. Only a handful of fields are
// interpreted by the client; everything else is carried through untouched.
type Resource map[string]any

// UUID returns the resource's uuid field.
func (r Resource) UUID() string {
	return r.String("uuid")
}

// State returns the resource's state field.
func (r Resource) State() State {
	return State(r.String("state"))
}

// Name returns the resource's name field.
func (r Resource) Name() string {
	return r.String("name")
}

// ResourceURI returns the resource's resource_uri field.
func (r Resource) ResourceURI() string {
	return r.String("resource_uri")
}

// String returns the string value stored under key, or "" if the key is
// missing or not a string.
func (r Resource) String(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r[key].(string)
	return s
}

// URIs returns the string elements of an array field such as "services"
// or "containers". Non-string elements are skipped.
func (r Resource) URIs(key string) []string {
	if r == nil {
		return nil
	}
	raw, ok := r[key].([]any)
	if !ok {
		if ss, ok := r[key].([]string); ok {
			return append([]string(nil), ss...)
		}
		return nil
	}
	uris := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			uris = append(uris, s)
		}
	}
	return uris
}

// Clone returns a shallow copy of the resource.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	out := make(Resource, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
