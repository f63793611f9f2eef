package subcmd

import (
	"context"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/equip"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

// Exit codes, one per protocol taxonomy entry so scripts can branch without
// parsing diagnostics.
const (
	ExitSuccess            = 0
	ExitGeneric            = 1
	ExitUsage              = 2
	ExitTransport          = 10 // endpoint could not be opened
	ExitHandshake          = 11 // node did not confirm identity
	ExitConnectionLost     = 12
	ExitCommandTimedOut    = 13
	ExitSessionBusy        = 14
	ExitProtocol           = 15 // malformed frames exhausted the exchange
	ExitPartialEquip       = 16
	ExitNothingDiscovered  = 17
	ExitInterrupted        = 18
)

// ErrNothingDiscovered is the CLI-level "no devices found" outcome.
var ErrNothingDiscovered = errors.New("no sensor nodes found")

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrNothingDiscovered):
		return ExitNothingDiscovered
	case transport.IsUnavailable(err):
		return ExitTransport
	case errors.Is(err, proto.ErrHandshakeTimeout):
		return ExitHandshake
	case errors.Is(err, proto.ErrConnectionLost), errors.Is(err, transport.ErrClosed):
		return ExitConnectionLost
	case errors.Is(err, proto.ErrCommandTimedOut):
		return ExitCommandTimedOut
	case errors.Is(err, proto.ErrSessionBusy):
		return ExitSessionBusy
	case proto.IsFrameError(err):
		return ExitProtocol
	case equip.IsPartialFailure(err):
		return ExitPartialEquip
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	}
	return ExitGeneric
}
