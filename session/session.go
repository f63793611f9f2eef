package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/discovery"
	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

type Config struct {
	HandshakeTimeout time.Duration // identity confirmation window after open
	BaseTimeout      time.Duration // first response wait per command
	MaxTimeout       time.Duration // cap for the exponential wait growth
	MaxRetries       int           // identical resends after the first attempt
	BusyGrace        time.Duration // wait extension granted per Busy signal
	OverallDeadline  time.Duration // hard bound across Busy extensions
}

func (c *Config) SetDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 3 * time.Second
	}
	if c.BaseTimeout == 0 {
		c.BaseTimeout = 1 * time.Second
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = 8 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BusyGrace == 0 {
		c.BusyGrace = 5 * time.Second
	}
	if c.OverallDeadline == 0 {
		c.OverallDeadline = 60 * time.Second
	}
}

// Dialer opens the transport for a selected device descriptor.
type Dialer func(ctx context.Context, desc discovery.DeviceDescriptor) (transport.Transport, error)

// Session binds one transport to one device. A session is owned by whoever
// opened it; the pending-command slot is the only concurrency gate, so
// command execution within a session is strictly serial while different
// sessions run independently.
type Session struct {
	log *log2.Log
	cfg Config

	tr      transport.Transport
	desc    discovery.DeviceDescriptor
	remote  *proto.Descriptor
	state   uint32
	pending uint32
	lastTID uint32
}

func New(log *log2.Log, cfg Config) *Session {
	cfg.SetDefaults()
	return &Session{log: log, cfg: cfg}
}

func (s *Session) State() State { return State(atomic.LoadUint32(&s.state)) }

// Remote returns the node's descriptor from the identity handshake,
// nil before Connect succeeds.
func (s *Session) Remote() *proto.Descriptor { return s.remote }

func (s *Session) Descriptor() discovery.DeviceDescriptor { return s.desc }

// MaxPayload is the bound transport's frame limit, for callers that chunk.
func (s *Session) MaxPayload() int {
	if s.tr == nil {
		return 0
	}
	return s.tr.MaxPayload()
}

func (s *Session) transition(from, to State) bool {
	ok := atomic.CompareAndSwapUint32(&s.state, uint32(from), uint32(to))
	if ok {
		s.log.Debugf("session %s: %s -> %s", s.desc.Identity, from, to)
	}
	return ok
}

func (s *Session) setState(to State) {
	old := State(atomic.SwapUint32(&s.state, uint32(to)))
	if old != to {
		s.log.Debugf("session %s: %s -> %s", s.desc.Identity, old, to)
	}
}

// fault marks the session unusable. Closing/Closed win: a fault observed
// while tearing down is just the teardown echo.
func (s *Session) fault() {
	for {
		old := s.State()
		if old == StateClosing || old == StateClosed || old == StateFaulted {
			return
		}
		if s.transition(old, StateFaulted) {
			return
		}
	}
}

// Connect opens the transport for desc and confirms the node's identity
// within the handshake window. On handshake failure the session is Faulted
// and must be discarded; on open failure it returns to Disconnected so the
// caller may retry at the discovery level.
func (s *Session) Connect(ctx context.Context, desc discovery.DeviceDescriptor, dial Dialer) error {
	if !s.transition(StateDisconnected, StateConnecting) {
		return errors.Errorf("connect in state=%s", s.State())
	}
	s.desc = desc

	tr, err := dial(ctx, desc)
	if err != nil {
		s.setState(StateDisconnected)
		return errors.Trace(err)
	}
	s.tr = tr

	cmd := proto.NewCommand(proto.VerbIdentify)
	cmd.TID = s.nextTID()
	resp, err := s.exchange(ctx, cmd, 1, s.cfg.HandshakeTimeout)
	if err != nil {
		tr.Close()
		s.fault()
		if errors.Is(err, proto.ErrCommandTimedOut) {
			return proto.ErrHandshakeTimeout
		}
		return errors.Trace(err)
	}
	remote, err := proto.DecodeDescriptor(resp.Payload)
	if err != nil {
		tr.Close()
		s.fault()
		return errors.Trace(err)
	}
	if desc.Identity != "" && remote.NodeID != desc.Identity && remote.SerialNumber != desc.Identity {
		tr.Close()
		s.fault()
		return errors.Annotatef(proto.ErrHandshakeTimeout,
			"wanted identity=%s got node=%s serial=%s", desc.Identity, remote.NodeID, remote.SerialNumber)
	}

	s.remote = remote
	if !s.transition(StateConnecting, StateReady) {
		// closed concurrently during handshake
		tr.Close()
		return proto.ErrConnectionLost
	}
	s.log.Infof("session %s connected via %s", desc.Identity, desc.Kind)
	return nil
}

// Close is idempotent. Any suspended command wait wakes with ConnectionLost.
func (s *Session) Close() error {
	for {
		old := s.State()
		switch old {
		case StateClosed, StateClosing:
			return nil
		case StateFaulted:
			// faulted transport may still hold OS resources
			if s.tr != nil {
				return s.tr.Close()
			}
			return nil
		}
		if s.transition(old, StateClosing) {
			break
		}
	}
	var err error
	if s.tr != nil {
		err = s.tr.Close()
	}
	s.setState(StateClosed)
	return errors.Trace(err)
}

func (s *Session) nextTID() uint32 { return atomic.AddUint32(&s.lastTID, 1) }
