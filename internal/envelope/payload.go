package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// PayloadKind tags which variant a Payload holds
type PayloadKind string

const (
	PayloadRaw        PayloadKind = "raw"
	PayloadStructured PayloadKind = "structured"
	// PayloadBinary holds bytes that are not valid UTF-8. They are stored
	// base64 encoded and redelivered byte for byte.
	PayloadBinary PayloadKind = "binary"
)

// Payload is raw text, opaque binary, or a validated JSON document. The
// decision is made once, when the payload enters the retry cycle.
type Payload struct {
	kind PayloadKind
	raw  []byte
	doc  json.RawMessage
}

// RawPayload wraps value as opaque text
func RawPayload(value string) Payload {
	return Payload{kind: PayloadRaw, raw: cloneBytes([]byte(value))}
}

// BinaryPayload wraps bytes that must survive unchanged
func BinaryPayload(value []byte) Payload {
	return Payload{kind: PayloadBinary, raw: cloneBytes(value)}
}

// StructuredPayload wraps an already validated JSON document
func StructuredPayload(doc json.RawMessage) Payload {
	return Payload{kind: PayloadStructured, doc: append(json.RawMessage(nil), doc...)}
}

// DecodePayload returns a Structured payload when value is a JSON document,
// a Raw payload when it is UTF-8 text and a Binary payload otherwise. It
// never fails.
func DecodePayload(value []byte) Payload {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return StructuredPayload(trimmed)
	}
	if !utf8.Valid(value) {
		return BinaryPayload(value)
	}
	return Payload{kind: PayloadRaw, raw: cloneBytes(value)}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// Kind reports the variant
func (p Payload) Kind() PayloadKind {
	if p.kind == "" {
		return PayloadRaw
	}
	return p.kind
}

// IsStructured reports whether the payload holds a JSON document
func (p Payload) IsStructured() bool {
	return p.kind == PayloadStructured
}

// Document returns the JSON document of a Structured payload
func (p Payload) Document() (json.RawMessage, bool) {
	if p.kind != PayloadStructured {
		return nil, false
	}
	return p.doc, true
}

// Bytes returns the wire form of the payload, used when producing the
// message back to the broker.
func (p Payload) Bytes() []byte {
	if p.kind == PayloadStructured {
		return append([]byte(nil), p.doc...)
	}
	return cloneBytes(p.raw)
}

// String returns the payload as text
func (p Payload) String() string {
	return string(p.Bytes())
}

type payloadJSON struct {
	Type  PayloadKind     `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON stores structured payloads inline, text as a JSON string and
// binary as a base64 JSON string. Raw bytes that are not valid UTF-8 are
// written as binary so nothing is replaced on the way through.
func (p Payload) MarshalJSON() ([]byte, error) {
	kind := p.Kind()
	var value any
	switch {
	case kind == PayloadStructured:
		return json.Marshal(payloadJSON{Type: kind, Value: p.doc})
	case kind == PayloadBinary || !utf8.Valid(p.raw):
		kind = PayloadBinary
		value = base64.StdEncoding.EncodeToString(p.raw)
	default:
		value = string(p.raw)
	}
	s, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadJSON{Type: kind, Value: s})
}

// UnmarshalJSON restores a payload written by MarshalJSON
func (p *Payload) UnmarshalJSON(data []byte) error {
	var in payloadJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case PayloadStructured:
		if len(in.Value) == 0 || !json.Valid(in.Value) {
			return fmt.Errorf("structured payload is not valid JSON")
		}
		*p = StructuredPayload(in.Value)
	case PayloadRaw, "":
		var s string
		if len(in.Value) > 0 {
			if err := json.Unmarshal(in.Value, &s); err != nil {
				return fmt.Errorf("raw payload must be a JSON string: %w", err)
			}
		}
		*p = RawPayload(s)
	case PayloadBinary:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return fmt.Errorf("binary payload must be a base64 string: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("binary payload must be a base64 string: %w", err)
		}
		*p = BinaryPayload(b)
	default:
		return fmt.Errorf("unknown payload type %q", in.Type)
	}
	return nil
}
