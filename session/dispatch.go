package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/helpers"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

// Execute allocates a transaction id, frames cmd through the bound transport
// and waits for the matching response.
//
// Serialization: at most one command is in flight; a second Execute fails
// fast with ErrSessionBusy instead of interleaving frames.
//
// Retries: on timeout the identical frame is resent with the same tid
// (the node treats a duplicate tid as the same request) and the wait restarts
// with exponential growth, capped. Exhausted retries surface as
// ErrCommandTimedOut and the session stays Ready.
//
// A Busy response is not a failure: it extends the wait once per Busy signal,
// bounded by the overall deadline, without consuming a retry.
func (s *Session) Execute(ctx context.Context, cmd *proto.Command) (*proto.Response, error) {
	if !atomic.CompareAndSwapUint32(&s.pending, 0, 1) {
		return nil, proto.ErrSessionBusy
	}
	defer atomic.StoreUint32(&s.pending, 0)

	if !s.transition(StateReady, StateExecuting) {
		st := s.State()
		if st.Terminal() || st == StateClosing {
			return nil, proto.ErrConnectionLost
		}
		return nil, errors.Errorf("execute in state=%s", st)
	}

	cmd.TID = s.nextTID()
	cmd.IssuedAt = time.Now()
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = s.cfg.BaseTimeout
	}
	attempts := cmd.MaxRetries + 1
	if cmd.MaxRetries == 0 {
		attempts = s.cfg.MaxRetries + 1
	} else if cmd.MaxRetries < 0 {
		attempts = 1
	}

	resp, err := s.exchange(ctx, cmd, attempts, timeout)
	// a faulted exchange already moved the state off Executing; any other
	// outcome - response, timeout, caller cancellation - leaves the session
	// usable for the next command
	s.transition(StateExecuting, StateReady)
	return resp, err
}

// exchange runs the correlation/retry protocol, transport kind agnostic.
// Any frame whose tid differs from cmd's — late responses from a previous
// timed-out attempt, unrelated traffic — is silently dropped: the bus
// transport has no native request/response pairing, so tid equality against
// the one pending command is the only matching rule.
func (s *Session) exchange(ctx context.Context, cmd *proto.Command, attempts int, timeout time.Duration) (*proto.Response, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return nil, errors.Trace(err)
	}
	frame := transport.Frame{TID: cmd.TID, Payload: payload}

	overall := time.Now().Add(s.cfg.OverallDeadline)
	resend := helpers.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, K: 2}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if delay := resend.DelayBefore(); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			resend.Failure()
			s.log.Debugf("session %s resend tid=%d attempt=%d/%d", s.desc.Identity, cmd.TID, attempt+1, attempts)
		} else {
			resend.Reset()
		}

		if err := s.tr.Send(frame); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				s.fault()
				return nil, proto.ErrConnectionLost
			}
			// transient send failure burns the attempt like a lost frame
			s.log.Errorf("session %s send tid=%d: %v", s.desc.Identity, cmd.TID, err)
			continue
		}

		deadline := time.Now().Add(attemptWait(timeout, s.cfg.MaxTimeout, attempt))

		resp, err := s.collect(ctx, cmd.TID, deadline, overall)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, context.DeadlineExceeded):
			// this attempt's window expired, next resend
		case errors.Is(err, transport.ErrClosed):
			s.fault()
			return nil, proto.ErrConnectionLost
		default:
			return nil, errors.Trace(err)
		}
	}
	s.log.Infof("session %s tid=%d verb=%s no response after %d attempts",
		s.desc.Identity, cmd.TID, cmd.Verb, attempts)
	return nil, proto.ErrCommandTimedOut
}

// attemptWait is the response window for one send: the full timeout on the
// first attempt (handshake and per-command windows are deliberate, the cap
// does not shrink them), then doubling per resend up to max. Doubling stops
// at the cap, so a huge retry count cannot overflow the duration.
func attemptWait(timeout, max time.Duration, attempt int) time.Duration {
	if max < timeout {
		max = timeout
	}
	wait := timeout
	for i := 0; i < attempt; i++ {
		if wait >= max/2 {
			return max
		}
		wait *= 2
	}
	return wait
}

// collect pumps Receive until the matching response arrives or deadline
// passes. Busy pushes the deadline out by BusyGrace, never past overall.
func (s *Session) collect(ctx context.Context, tid uint32, deadline, overall time.Time) (*proto.Response, error) {
	for {
		wctx, cancel := context.WithDeadline(ctx, deadline)
		f, err := s.tr.Receive(wctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		resp, err := proto.DecodeResponse(f.Payload)
		if err != nil {
			// malformed frame counts as a missed response
			s.log.Debugf("session %s drop: %v", s.desc.Identity, err)
			continue
		}
		if resp.TID != tid {
			s.log.Debugf("session %s drop stale tid=%d want=%d", s.desc.Identity, resp.TID, tid)
			continue
		}
		if resp.Status == proto.StatusBusy {
			extended := time.Now().Add(s.cfg.BusyGrace)
			if extended.After(overall) {
				extended = overall
			}
			if extended.After(deadline) {
				deadline = extended
				s.log.Debugf("session %s tid=%d busy, wait extended to %s",
					s.desc.Identity, tid, time.Until(deadline).Round(time.Millisecond))
			}
			continue
		}
		return resp, nil
	}
}
