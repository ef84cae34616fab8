package messaging

import "errors"

var (
	// ErrConfiguration reports invalid broker parameters or a registration
	// made in the wrong dispatcher state.
	ErrConfiguration = errors.New("messaging: configuration error")
	// ErrConnection reports an unreachable broker or a dropped connection.
	ErrConnection = errors.New("messaging: connection error")
	// ErrPublish is returned by PublishMessage when the command could not be
	// handed to the broker.
	ErrPublish = errors.New("messaging: publish failed")
	// ErrDeserialization reports a malformed message body, a missing or
	// mistyped field, or an unknown command type.
	ErrDeserialization = errors.New("messaging: deserialization error")
	// ErrHandler wraps errors returned (or panics raised) by a handler.
	ErrHandler = errors.New("messaging: handler error")
)
