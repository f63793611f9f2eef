package serial

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

type Options struct {
	Baud       int
	MaxPayload int
	Log        *log2.Log

	// Uarter overrides the real tty, tests only.
	Uarter Uarter
}

// Transport frames byte traffic over one open UART.
type Transport struct {
	alive  *alive.Alive
	u      Uarter
	frames chan transport.Frame
	max    int
	log    *log2.Log

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ transport.Transport = (*Transport)(nil)

// Open claims the port and starts the read pump.
func Open(endpoint string, opt Options) (*Transport, error) {
	u := opt.Uarter
	if u == nil {
		u = NewFileUart()
	}
	if err := u.Open(endpoint, opt.Baud); err != nil {
		return nil, &transport.Unavailable{Endpoint: endpoint, Cause: err}
	}
	max := opt.MaxPayload
	if max <= 0 {
		max = DefaultMaxPayload
	}
	t := &Transport{
		alive:  alive.NewAlive(),
		u:      u,
		frames: make(chan transport.Frame, 1),
		max:    max,
		log:    opt.Log,
	}
	t.alive.Add(1)
	go t.readLoop(endpoint)
	return t, nil
}

func (t *Transport) MaxPayload() int { return t.max }

func (t *Transport) Send(f transport.Frame) error {
	if len(f.Payload) > t.max {
		return errors.NotValidf("payload=%d exceeds max=%d", len(f.Payload), t.max)
	}
	if !t.alive.IsRunning() {
		return transport.ErrClosed
	}
	wire := Encode(f)
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.u.Write(wire); err != nil {
		return errors.Annotate(err, "uart write")
	}
	t.log.Debugf("serial send tid=%d len=%d", f.TID, len(f.Payload))
	return nil
}

func (t *Transport) Receive(ctx context.Context) (transport.Frame, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return transport.Frame{}, transport.ErrClosed
		}
		return f, nil
	case <-t.alive.StopChan():
		// drain any frame already decoded before the stop
		select {
		case f, ok := <-t.frames:
			if ok {
				return f, nil
			}
		default:
		}
		return transport.Frame{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.alive.Stop()
		t.closeErr = t.u.Close() // unblocks the pump's pending read
		t.alive.Wait()
	})
	return t.closeErr
}

// readLoop is the only reader of the UART. Malformed frames are dropped and
// counted as missed responses by the retry layer; a read error ends the pump
// and wakes receivers with ErrClosed.
func (t *Transport) readLoop(endpoint string) {
	defer t.alive.Done()
	defer close(t.frames)
	dec := NewDecoder(t.u, t.max)
	for t.alive.IsRunning() {
		f, err := dec.Read()
		switch {
		case err == nil:
			select {
			case t.frames <- f:
			case <-t.alive.StopChan():
				return
			}
		case proto.IsFrameError(err):
			t.log.Debugf("serial %s drop bad frame: %v", endpoint, err)
		default:
			if t.alive.IsRunning() {
				t.log.Errorf("serial %s read: %v", endpoint, err)
				t.alive.Stop()
			}
			return
		}
	}
}
