// Package transport moves opaque frames between the host and one sensor node,
// hiding channel mechanics. Two implementations exist: serial (framed byte
// stream over a UART) and bus (MQTT publish/subscribe).
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindSerial
	KindBus
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindBus:
		return "bus"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "serial", "uart":
		return KindSerial, nil
	case "bus", "mqtt":
		return KindBus, nil
	}
	return KindInvalid, errors.NotValidf("transport kind=%s", s)
}

// Frame is one delimited unit of bytes exchanged with a node.
// The transaction id travels outside the payload so the transport can route
// responses without understanding the payload.
type Frame struct {
	TID     uint32
	Payload []byte
}

// ErrClosed wakes any Receive suspended on a transport that was closed,
// locally or by the peer.
var ErrClosed = fmt.Errorf("transport closed")

// Unavailable reports that an endpoint could not be opened:
// port busy, broker unreachable.
type Unavailable struct {
	Endpoint string
	Cause    error
}

func (e *Unavailable) Error() string {
	return fmt.Sprintf("transport endpoint=%s unavailable: %v", e.Endpoint, e.Cause)
}
func (e *Unavailable) Unwrap() error { return e.Cause }

func IsUnavailable(err error) bool {
	var u *Unavailable
	return errors.As(err, &u)
}

// Transport is the fixed capability surface shared by both channel variants,
// selected at session construction time.
//
// Receive is the sole suspension point: it blocks until a frame arrives, the
// context expires, or the transport is closed (then it returns ErrClosed).
// Close is idempotent and wakes any suspended Receive.
type Transport interface {
	Send(f Frame) error
	Receive(ctx context.Context) (Frame, error)
	Close() error

	// MaxPayload is the largest payload Send accepts in one frame.
	// Callers moving more bytes must chunk.
	MaxPayload() int
}
