package messaging

import (
	"fmt"
	"strings"
	"time"
)

// AckMode decides how a message is settled after a failed delivery attempt.
type AckMode int

const (
	// AckAlways acknowledges every message once handled, whatever the
	// outcome (at-most-once, no redelivery).
	AckAlways AckMode = iota
	// AckOnSuccess acknowledges successes and rejects failures without
	// requeueing them.
	AckOnSuccess
	// RequeueOnFailure acknowledges successes and requeues handler failures.
	// Undecodable messages are rejected, never requeued.
	RequeueOnFailure
)

func (m AckMode) String() string {
	switch m {
	case AckAlways:
		return "always"
	case AckOnSuccess:
		return "on_success"
	case RequeueOnFailure:
		return "requeue"
	default:
		return fmt.Sprintf("AckMode(%d)", int(m))
	}
}

// ParseAckMode parses the names returned by AckMode.String.
func ParseAckMode(s string) (AckMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return AckAlways, nil
	case "on_success":
		return AckOnSuccess, nil
	case "requeue":
		return RequeueOnFailure, nil
	default:
		return AckAlways, fmt.Errorf("%w: unknown ack mode %q", ErrConfiguration, s)
	}
}

type options struct {
	ackMode AckMode
	appName string

	// dialRetries is the number of extra dial attempts; 0 disables retry.
	dialRetries uint64
	dialBackoff time.Duration
	maxBackoff  time.Duration
}

// Option configures a Dispatcher.
type Option func(*options)

func newOptions(opts ...Option) options {
	o := options{
		ackMode:     AckAlways,
		appName:     "emailme",
		dialBackoff: 500 * time.Millisecond,
		maxBackoff:  5 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}
	return o
}

// WithAckMode sets the settlement policy of consumed messages.
func WithAckMode(m AckMode) Option {
	return func(o *options) { o.ackMode = m }
}

// WithAppName sets the AppId stamped on published messages and the consumer
// tag prefix.
func WithAppName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.appName = name
		}
	}
}

// WithDialRetry retries a failed broker dial up to retries more times with
// exponential backoff starting at base. It only covers establishing a
// connection; a connection lost while consuming is still fatal.
func WithDialRetry(retries uint64, base time.Duration) Option {
	return func(o *options) {
		o.dialRetries = retries
		if base > 0 {
			o.dialBackoff = base
		}
	}
}
