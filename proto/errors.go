package proto

import (
	"fmt"

	"github.com/juju/errors"
)

// Protocol failure taxonomy. Each entry surfaces differently:
//
//	ErrHandshakeTimeout  session -> Faulted, discard and rediscover
//	ErrConnectionLost    pending command fails, session -> Faulted
//	ErrCommandTimedOut   retries exhausted, session stays Ready
//	ErrSessionBusy       fast failure, no frame was sent
//	*FrameError          offending frame dropped, counts as a missed response
var (
	ErrHandshakeTimeout = fmt.Errorf("node did not confirm identity within handshake window")
	ErrConnectionLost   = fmt.Errorf("connection lost")
	ErrCommandTimedOut  = fmt.Errorf("command timed out after all retries")
	ErrSessionBusy      = fmt.Errorf("session busy with another command")
)

// FrameError reports a malformed frame: unescaping failure, bad length,
// undecodable envelope.
type FrameError struct {
	Reason string
	Cause  error
}

func (e *FrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return "protocol error: " + e.Reason
}
func (e *FrameError) Unwrap() error { return e.Cause }

func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
