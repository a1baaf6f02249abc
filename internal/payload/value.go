// Package payload models the schema-less documents clients attach to events.
//
// A Value never fails to construct: anything that is not a JSON object or a
// JSON string is kept as an opaque "other" value so that callers can log it
// and move on.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindDocument
	KindString
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindDocument:
		return "document"
	case KindString:
		return "string"
	default:
		return "other"
	}
}

// Value is an inbound event payload together with its original encoding.
type Value struct {
	kind Kind
	doc  map[string]any
	str  string
	raw  json.RawMessage
}

// Null is the payload of an event that carried no data.
var Null = Value{kind: KindNull}

// Parse classifies raw JSON. Empty input is Null and undecodable input is
// KindOther with the bytes retained for logging.
func Parse(raw []byte) Value {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Null
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return Value{kind: KindOther, raw: json.RawMessage(mustQuote(trimmed))}
	}

	v := fromDecoded(decoded)
	v.raw = json.RawMessage(trimmed)
	return v
}

// From wraps an already decoded Go value.
func From(v any) Value {
	out := fromDecoded(v)
	if out.kind != KindNull {
		if b, err := json.Marshal(v); err == nil {
			out.raw = b
		}
	}
	return out
}

func fromDecoded(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case map[string]any:
		return Value{kind: KindDocument, doc: t}
	case string:
		return Value{kind: KindString, str: t}
	default:
		return Value{kind: KindOther}
	}
}

// Kind reports the shape of the payload.
func (v Value) Kind() Kind { return v.kind }

// IsDocument reports whether the payload is a key/value document.
func (v Value) IsDocument() bool { return v.kind == KindDocument }

// Document returns the underlying key/value document.
func (v Value) Document() (map[string]any, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// Str returns the payload when it is a plain string.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// StringField looks up key in a document payload. It reports false when the
// payload is not a document, the key is missing, or the value is not a
// non-empty string.
func (v Value) StringField(key string) (string, bool) {
	if v.kind != KindDocument {
		return "", false
	}
	s, ok := v.doc[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// MarshalJSON re-emits the payload exactly as it was received.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNull || len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// String renders the payload for log lines.
func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return fmt.Sprintf("%s(%s)", v.kind, string(v.raw))
}

func mustQuote(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return b
}
