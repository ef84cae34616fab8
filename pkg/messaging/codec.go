package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderCommandType carries the routing key of a published command.
	HeaderCommandType = "x-command-type"

	contentTypeJSON = "application/json"
)

var errNotPrimitive = errors.New("value is not a primitive")

// EncodeFields serializes fields as a flat JSON object. Nested values are
// rejected so that every command stays a flat key-value record.
func EncodeFields(f Fields) ([]byte, error) {
	for k, v := range f {
		if !isPrimitive(v) {
			return nil, fmt.Errorf("field %q (%T): %w", k, v, errNotPrimitive)
		}
	}
	if f == nil {
		f = Fields{}
	}
	return json.Marshal(map[string]any(f))
}

// DecodeFields parses a message body produced by EncodeFields. Numbers are
// kept as json.Number so integers survive the round trip.
func DecodeFields(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrDeserialization)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrDeserialization)
	}
	for k, v := range f {
		if !isPrimitive(v) {
			return nil, fmt.Errorf("%w: field %q is not a primitive value", ErrDeserialization, k)
		}
	}
	return f, nil
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
