package resource

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// State is a resource state as reported by the API. The set of valid states
// depends on the resource kind.
type State string

// States the client cares about. Stacks, services and containers share the
// Running/Stopped/Terminated family; actions finish in Success, Failed or
// Canceled.
const (
	StateSuccess    State = "Success"
	StateRunning    State = "Running"
	StateStopped    State = "Stopped"
	StateTerminated State = "Terminated"

	StateNotRunning    State = "Not running"
	StatePartlyRunning State = "Partly running"
	StateStarting      State = "Starting"
	StateStopping      State = "Stopping"
	StateTerminating   State = "Terminating"
	StateDeploying     State = "Deploying"
	StateRedeploying   State = "Redeploying"

	StatePending    State = "Pending"
	StateInProgress State = "In progress"
	StateCanceling  State = "Canceling"
	StateCanceled   State = "Canceled"
	StateFailed     State = "Failed"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Fields is a desired-state predicate expressed as a subset of resource
// fields. An object matches when every key in Fields is present on it and
// holds an equal value. Fields absent from the predicate are ignored.
type Fields map[string]any

// StateIs returns the predicate matching resources in the given state.
func StateIs(state State) Fields {
	return Fields{"state": string(state)}
}

// Match reports whether obj carries every field of the predicate with an
// equal value. An empty predicate matches any non-nil object.
func (f Fields) Match(obj map[string]any) bool {
	if obj == nil {
		return false
	}
	for key, want := range f {
		got, ok := obj[key]
		if !ok {
			return false
		}
		if !equalValue(want, got) {
			return false
		}
	}
	return true
}

// State returns the state required by the predicate, if any.
func (f Fields) State() State {
	switch v := f["state"].(type) {
	case string:
		return State(v)
	case State:
		return v
	}
	return ""
}

// String renders the predicate deterministically for logs and errors.
func (f Fields) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(stringValue(f[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// equalValue compares a predicate value with a decoded JSON value. State
// values are compared with their string form and numbers by value, since
// decoded bodies carry every number as float64.
func equalValue(want, got any) bool {
	if ws, ok := asString(want); ok {
		gs, ok := asString(got)
		return ok && ws == gs
	}
	if wn, ok := asNumber(want); ok {
		gn, ok := asNumber(got)
		return ok && wn == gn
	}
	return reflect.DeepEqual(want, got)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case State:
		return string(s), true
	case Kind:
		return string(s), true
	}
	return "", false
}

func stringValue(v any) string {
	if s, ok := asString(v); ok {
		return s
	}
	return fmt.Sprint(v)
}

// IncompatibleStates returns the states of the given kind from which the
// desired state can no longer be reached. A wait observing one of them is
// abandoned instead of waiting forever.
func IncompatibleStates(kind Kind, desired State) []State {
	switch kind {
	case KindAction:
		if desired == StateSuccess {
			return []State{StateFailed, StateCanceled}
		}
	case KindStack, KindService, KindContainer:
		if desired != StateTerminated && desired != StateTerminating {
			return []State{StateTerminated}
		}
	}
	return nil
}
