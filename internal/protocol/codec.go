package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed message")
var ErrUnknownType = errors.New("unknown message type")
var ErrMissingField = errors.New("missing required field")

const Delimiter = '\n'

// Marshal stamps the message type and encodes m as one delimited frame.
func Marshal(m Message) ([]byte, error) {
	m.head().Type = m.Kind()
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return append(b, Delimiter), nil
}

// Unmarshal decodes one frame (with or without its delimiter) into the
// concrete message named by its type field.
func Unmarshal(frame []byte) (Message, error) {
	frame = bytes.TrimSpace(frame)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rawType, ok := raw["type"]
	if !ok {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	var t Type
	if err := json.Unmarshal(rawType, &t); err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
	}

	m := newMessage(t)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	for _, f := range m.required() {
		if v, ok := raw[f]; !ok || string(v) == "null" {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, t, f)
		}
	}
	if err := json.Unmarshal(frame, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	m.head().Type = t
	return m, nil
}
