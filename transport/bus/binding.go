package bus

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/transport"
)

// Binding is the transport.Transport view of one device over the shared
// connection. Send registers the frame's tid with the demux before
// publishing, so the response cannot race the registration; resending the
// same tid (retry) keeps the existing registration.
type Binding struct {
	conn   *Conn
	device string
	qos    byte

	mu     sync.Mutex
	tid    uint32
	ch     <-chan transport.Frame
	closed bool
}

var _ transport.Transport = (*Binding)(nil)

func (b *Binding) MaxPayload() int { return DefaultMaxPayload }

func (b *Binding) Send(f transport.Frame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if b.ch == nil || b.tid != f.TID {
		if b.ch != nil {
			b.conn.demux.Unregister(b.device, b.tid)
		}
		ch, err := b.conn.demux.Register(b.device, f.TID)
		if err != nil {
			b.mu.Unlock()
			return errors.Trace(err)
		}
		b.tid, b.ch = f.TID, ch
	}
	b.mu.Unlock()

	if err := b.conn.publish(RequestTopic(b.device), b.qos, false, f.Payload); err != nil {
		return errors.Trace(err)
	}
	b.conn.log.Debugf("bus send device=%s tid=%d qos=%d len=%d", b.device, f.TID, b.qos, len(f.Payload))
	return nil
}

func (b *Binding) Receive(ctx context.Context) (transport.Frame, error) {
	b.mu.Lock()
	ch := b.ch
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return transport.Frame{}, transport.ErrClosed
	}
	if ch == nil {
		return transport.Frame{}, errors.Errorf("code error bus receive before send device=%s", b.device)
	}
	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	case <-b.conn.closed:
		return transport.Frame{}, transport.ErrClosed
	}
}

// Close releases this device's demux slots. The shared connection stays up.
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.ch = nil
	b.conn.demux.dropAll(b.device)
	return nil
}
