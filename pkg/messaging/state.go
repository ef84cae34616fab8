package messaging

import "fmt"

// State is the lifecycle position of a Dispatcher.
//
//	UNCONFIGURED -> CONFIGURED -> CONNECTED -> CONSUMING -> STOPPED
//
// PublishMessage moves CONFIGURED to CONNECTED lazily. Start accepts
// CONFIGURED or CONNECTED. A fatal connection error moves to STOPPED.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateConnected
	StateConsuming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "UNCONFIGURED"
	case StateConfigured:
		return "CONFIGURED"
	case StateConnected:
		return "CONNECTED"
	case StateConsuming:
		return "CONSUMING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
