package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Envelope is the only unit that crosses the boundary.
type Envelope struct {
	Type Type   `json:"type"`
	Data string `json:"data"`
}

// Encode wraps (t, payload) into envelope text. The payload must be valid
// UTF-8: anything else would be silently rewritten in transit.
func Encode(t Type, payload string) (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: empty type", ErrEncoding)
	}
	if !utf8.ValidString(string(t)) || !utf8.ValidString(payload) {
		return "", fmt.Errorf("%w: %s payload is not valid UTF-8", ErrEncoding, t)
	}
	b, err := json.Marshal(Envelope{Type: t, Data: payload})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return string(b), nil
}

// Decode is the inverse of Encode. A missing data member decodes as an
// empty payload (the runtime sends "ready" bare).
func Decode(raw string) (Envelope, error) {
	var wire struct {
		Type *string         `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	if dec.More() {
		return Envelope{}, fmt.Errorf("%w: trailing data after envelope", ErrDecoding)
	}
	if wire.Type == nil || *wire.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrDecoding)
	}

	env := Envelope{Type: Type(*wire.Type)}
	if len(wire.Data) == 0 || string(wire.Data) == "null" {
		return env, nil
	}
	if err := json.Unmarshal(wire.Data, &env.Data); err != nil {
		return Envelope{}, fmt.Errorf("%w: data of %s is not a string", ErrDecoding, env.Type)
	}
	return env, nil
}

// Quote renders envelope text as a double-quoted script string literal.
// Quotes, backslashes and control characters are escaped, as are U+2028,
// U+2029 and <, >, & so the literal is also safe inside an inline script.
func Quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Unquote parses a literal produced by Quote.
func Unquote(literal string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(literal), &s); err != nil {
		return "", fmt.Errorf("%w: bad string literal: %v", ErrDecoding, err)
	}
	return s, nil
}
