package types

import (
	"encoding/json"
	"testing"
)

func TestPayloadJSON_EnvelopeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []Payload{
		TextPayload("the inn burned down last winter"),
		RecordPayload(map[string]any{"name": "Mira", "level": float64(3)}),
		OpaquePayload([]any{"a", float64(1)}),
	}
	for _, in := range cases {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", in.Kind, err)
		}
		var out Payload
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", b, err)
		}
		if out.Kind != in.Kind {
			t.Fatalf("kind mismatch: got %q want %q", out.Kind, in.Kind)
		}
	}
}

func TestPayloadJSON_BareValues(t *testing.T) {
	t.Parallel()
	var p Payload
	if err := json.Unmarshal([]byte(`"just a note"`), &p); err != nil {
		t.Fatalf("Unmarshal(string) error = %v", err)
	}
	if p.Kind != PayloadText || p.Text != "just a note" {
		t.Fatalf("expected text payload, got %+v", p)
	}

	if err := json.Unmarshal([]byte(`{"name": "Mira", "class": "mage"}`), &p); err != nil {
		t.Fatalf("Unmarshal(object) error = %v", err)
	}
	if p.Kind != PayloadRecord || p.Record["class"] != "mage" {
		t.Fatalf("expected record payload, got %+v", p)
	}

	if err := json.Unmarshal([]byte(`[1, 2, 3]`), &p); err != nil {
		t.Fatalf("Unmarshal(array) error = %v", err)
	}
	if p.Kind != PayloadOpaque {
		t.Fatalf("expected opaque payload, got %+v", p)
	}
}
