package resource

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractUUID(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "action uri with trailing slash",
			uri:  "/api/app/v1/action/7c42003e-eb39-4adc-b5b9-cbb7607fc698/",
			want: "7c42003e-eb39-4adc-b5b9-cbb7607fc698",
		},
		{
			name: "audit uri",
			uri:  "/api/audit/v1/action/0f1e2d3c-aaaa-bbbb-cccc-000000000001/",
			want: "0f1e2d3c-aaaa-bbbb-cccc-000000000001",
		},
		{
			name: "no trailing slash",
			uri:  "/api/app/v1/service/abc",
			want: "abc",
		},
		{
			name: "empty",
			uri:  "",
			want: "",
		},
		{
			name: "no separator",
			uri:  "abc",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractUUID(tt.uri); got != tt.want {
				t.Errorf("ExtractUUID(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}

func TestParseUUID(t *testing.T) {
	id, err := ParseUUID(" /api/app/v1/stack/s-1/ ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "s-1" {
		t.Errorf("expected s-1, got %q", id)
	}

	if _, err := ParseUUID("/"); !errors.Is(err, ErrInvalidURI) {
		t.Errorf("expected ErrInvalidURI, got %v", err)
	}
}

func TestContainsUUID(t *testing.T) {
	uri := "/api/app/v1/stack/7c42003e-eb39-4adc-b5b9-cbb7607fc698/"

	if !ContainsUUID(uri, "7c42003e-eb39-4adc-b5b9-cbb7607fc698") {
		t.Error("expected uuid segment to match")
	}
	if ContainsUUID(uri, "7c42003e") {
		t.Error("partial uuid must not match")
	}
	if ContainsUUID(uri, "") {
		t.Error("empty uuid must not match")
	}
}

func TestFieldsMatch(t *testing.T) {
	running := StateIs(StateRunning)

	tests := []struct {
		name string
		obj  map[string]any
		want bool
	}{
		{
			name: "exact",
			obj:  map[string]any{"state": "Running"},
			want: true,
		},
		{
			name: "extra fields ignored",
			obj: map[string]any{
				"state":        "Running",
				"uuid":         "u-1",
				"name":         "web",
				"resource_uri": "/api/app/v1/stack/u-1/",
				"services":     []any{"/api/app/v1/service/s-1/"},
			},
			want: true,
		},
		{
			name: "different value",
			obj:  map[string]any{"state": "Stopped", "uuid": "u-1"},
			want: false,
		},
		{
			name: "missing required field",
			obj:  map[string]any{"uuid": "u-1"},
			want: false,
		},
		{
			name: "nil object",
			obj:  nil,
			want: false,
		},
		{
			name: "non-string value",
			obj:  map[string]any{"state": 1},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := running.Match(tt.obj); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.obj, got, tt.want)
			}
		})
	}
}

func TestFieldsMatchMultipleKeys(t *testing.T) {
	pred := Fields{"state": StateRunning, "target_num_containers": float64(2)}

	if !pred.Match(map[string]any{"state": "Running", "target_num_containers": float64(2), "name": "x"}) {
		t.Error("expected match on all fields")
	}
	if pred.Match(map[string]any{"state": "Running"}) {
		t.Error("expected no match when a required field is missing")
	}
	if got := pred.String(); got != "{state=Running, target_num_containers=2}" {
		t.Errorf("unexpected String(): %s", got)
	}
	if pred.State() != StateRunning {
		t.Errorf("expected Running, got %s", pred.State())
	}
}

func TestFieldsMatchNumbers(t *testing.T) {
	tests := []struct {
		name string
		want any
		got  any
		ok   bool
	}{
		{name: "int against float64", want: 2, got: float64(2), ok: true},
		{name: "int64 against float64", want: int64(3), got: float64(3), ok: true},
		{name: "uint8 against float64", want: uint8(1), got: float64(1), ok: true},
		{name: "float32 against float64", want: float32(0.5), got: float64(0.5), ok: true},
		{name: "json.Number against float64", want: json.Number("4"), got: float64(4), ok: true},
		{name: "different values", want: 2, got: float64(3)},
		{name: "number against string", want: 2, got: "2"},
		{name: "bool by value", want: true, got: true, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := Fields{"target_num_containers": tt.want}
			if got := pred.Match(map[string]any{"target_num_containers": tt.got}); got != tt.ok {
				t.Errorf("Match() = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestResourceAccessors(t *testing.T) {
	r := Resource{
		"uuid":         "u-1",
		"state":        "Running",
		"name":         "web",
		"resource_uri": "/api/app/v1/stack/u-1/",
		"services":     []any{"/api/app/v1/service/a/", 3, "/api/app/v1/service/b/"},
	}

	if r.UUID() != "u-1" || r.State() != StateRunning || r.Name() != "web" {
		t.Errorf("unexpected accessors: %s %s %s", r.UUID(), r.State(), r.Name())
	}
	if r.ResourceURI() != "/api/app/v1/stack/u-1/" {
		t.Errorf("unexpected resource uri %s", r.ResourceURI())
	}

	uris := r.URIs("services")
	if len(uris) != 2 {
		t.Fatalf("expected 2 uris, got %d", len(uris))
	}
	if r.URIs("containers") != nil {
		t.Error("expected nil for missing array")
	}

	var empty Resource
	if empty.UUID() != "" {
		t.Error("nil resource must yield empty fields")
	}

	clone := r.Clone()
	clone["state"] = "Stopped"
	if r.State() != StateRunning {
		t.Error("clone must not alias the original")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Stack ")
	if err != nil || k != KindStack {
		t.Fatalf("expected stack, got %q (%v)", k, err)
	}
	if _, err := ParseKind("volume"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestIncompatibleStates(t *testing.T) {
	got := IncompatibleStates(KindAction, StateSuccess)
	if len(got) != 2 || got[0] != StateFailed || got[1] != StateCanceled {
		t.Errorf("unexpected action incompatibles: %v", got)
	}

	got = IncompatibleStates(KindStack, StateRunning)
	if len(got) != 1 || got[0] != StateTerminated {
		t.Errorf("unexpected stack incompatibles: %v", got)
	}

	if got := IncompatibleStates(KindStack, StateTerminated); got != nil {
		t.Errorf("waiting for Terminated has no incompatible states, got %v", got)
	}
}
