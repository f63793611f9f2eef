// Package session owns the live binding of one transport to one device:
// the connection state machine and the command dispatcher that serializes,
// correlates and retries request/response exchanges.
package session

import "fmt"

type State uint32

const (
	StateDisconnected State = iota // new, nothing bound
	// StateDiscovering names the selection step for callers that track it;
	// the Session itself goes Disconnected -> Connecting because package
	// discovery runs before a descriptor is bound.
	StateDiscovering
	StateConnecting                // transport open + identity handshake
	StateReady                     // connected, no command in flight
	StateExecuting                 // dispatcher owns the transport
	StateClosing                   // explicit close in progress
	StateClosed                    // terminal, clean
	StateFaulted                   // terminal, discard and rediscover
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Terminal states never transition out; the Session must be discarded.
func (s State) Terminal() bool { return s == StateClosed || s == StateFaulted }

func (s State) Connected() bool { return s == StateReady || s == StateExecuting }
