package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Command is one unit of asynchronous work.
//
// CommandType is the routing key and must not depend on the receiver's
// fields: Register calls it on the zero value of the command type.
type Command interface {
	CommandType() string
	Fields() Fields
}

// LogFielder is implemented by commands that expose identifying fields for
// log lines (never the full payload).
type LogFielder interface {
	LogFields() logrus.Fields
}

// Handler processes commands of type C.
type Handler[C Command] interface {
	Handle(ctx context.Context, cmd C) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[C Command] func(ctx context.Context, cmd C) error

func (f HandlerFunc[C]) Handle(ctx context.Context, cmd C) error { return f(ctx, cmd) }

// DecodeFunc rebuilds a command from its wire fields.
type DecodeFunc[C Command] func(Fields) (C, error)

// Fields is the flat wire representation of a command: field name to a
// primitive value (string, bool, integer, float or nil).
type Fields map[string]any

func (f Fields) lookup(key string) (any, error) {
	v, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrDeserialization, key)
	}
	return v, nil
}

func typeError(key, want string, v any) error {
	return fmt.Errorf("%w: field %q must be %s, got %T", ErrDeserialization, key, want, v)
}

// String returns a string field.
func (f Fields) String(key string) (string, error) {
	v, err := f.lookup(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeError(key, "a string", v)
	}
	return s, nil
}

// Bool returns a boolean field.
func (f Fields) Bool(key string) (bool, error) {
	v, err := f.lookup(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeError(key, "a boolean", v)
	}
	return b, nil
}

// Int returns an integer field. Decoded messages carry numbers as
// json.Number; floats are accepted only when they hold an integral value.
func (f Fields) Int(key string) (int64, error) {
	v, err := f.lookup(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, typeError(key, "an integer", v)
		}
		return i, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), nil
		}
	}
	return 0, typeError(key, "an integer", v)
}

// Float returns a numeric field as float64.
func (f Fields) Float(key string) (float64, error) {
	v, err := f.lookup(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, typeError(key, "a number", v)
		}
		return x, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, typeError(key, "a number", v)
}
