package types

import (
	"encoding/json"
	"fmt"
)

// PayloadKind discriminates the closed payload variant.
type PayloadKind string

const (
	PayloadText   PayloadKind = "text"
	PayloadRecord PayloadKind = "record"
	PayloadOpaque PayloadKind = "opaque"
)

// Payload is the structured value carried by an entity: free text, a
// structured record, or an opaque value the compression strategies pass
// through unchanged. Exactly one variant is populated.
type Payload struct {
	Kind   PayloadKind
	Text   string
	Record map[string]any
	Opaque any
}

// TextPayload wraps a text payload.
func TextPayload(s string) Payload {
	return Payload{Kind: PayloadText, Text: s}
}

// RecordPayload wraps a structured record payload.
func RecordPayload(m map[string]any) Payload {
	return Payload{Kind: PayloadRecord, Record: m}
}

// OpaquePayload wraps a value of any other shape.
func OpaquePayload(v any) Payload {
	return Payload{Kind: PayloadOpaque, Opaque: v}
}

// IsZero reports whether the payload carries no value at all.
func (p Payload) IsZero() bool {
	return p.Kind == ""
}

type payloadEnvelope struct {
	Kind   PayloadKind     `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Record map[string]any  `json:"record,omitempty"`
	Opaque json.RawMessage `json:"opaque,omitempty"`
}

// MarshalJSON encodes the payload as a tagged envelope.
func (p Payload) MarshalJSON() ([]byte, error) {
	env := payloadEnvelope{Kind: p.Kind}
	switch p.Kind {
	case PayloadText:
		env.Text = p.Text
	case PayloadRecord:
		env.Record = p.Record
	case PayloadOpaque:
		raw, err := json.Marshal(p.Opaque)
		if err != nil {
			return nil, fmt.Errorf("marshal opaque payload: %w", err)
		}
		env.Opaque = raw
	case "":
		// zero payload serializes as an empty envelope
	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a tagged envelope. For compatibility with callers
// that send bare values, a raw JSON string becomes a text payload and a raw
// JSON object without a known kind tag becomes a record payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err == nil {
		switch env.Kind {
		case PayloadText:
			*p = TextPayload(env.Text)
			return nil
		case PayloadRecord:
			*p = RecordPayload(env.Record)
			return nil
		case PayloadOpaque:
			var v any
			if len(env.Opaque) > 0 {
				if err := json.Unmarshal(env.Opaque, &v); err != nil {
					return fmt.Errorf("unmarshal opaque payload: %w", err)
				}
			}
			*p = OpaquePayload(v)
			return nil
		}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	switch val := v.(type) {
	case string:
		*p = TextPayload(val)
	case map[string]any:
		*p = RecordPayload(val)
	case nil:
		*p = Payload{}
	default:
		*p = OpaquePayload(val)
	}
	return nil
}
