package types

import "encoding/json"

// Payload is the free-form template data carried by a task. It is stored as
// JSONB and handed to the renderer as-is.
type Payload map[string]any

// DecodePayload decodes a stored JSONB payload. A NULL, empty, or malformed
// value degrades to an empty map so a corrupt payload never blocks a batch;
// the render step will surface any fields the template actually needs.
func DecodePayload(raw []byte) Payload {
	if len(raw) == 0 {
		return Payload{}
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil || p == nil {
		return Payload{}
	}
	return p
}

// Encode marshals the payload for storage. A nil payload encodes as an empty
// object rather than SQL NULL.
func (p Payload) Encode() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// String returns a payload field coerced to string, or "" when absent or not
// a string.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Int64 returns a numeric payload field, or 0 when absent or not numeric.
// JSON numbers decode as float64, so both forms are accepted.
func (p Payload) Int64(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
