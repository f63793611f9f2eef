package serial

// Exported Uarter stub so session/discovery/equip tests can script a node
// on the other end of the wire.

import (
	"io"
	"sync"
	"time"
)

type PipeUart struct {
	in     chan []byte
	out    chan []byte
	rbuf   []byte
	closed chan struct{}
	once   sync.Once
}

var _ Uarter = (*PipeUart)(nil)

func NewPipeUart() *PipeUart {
	return &PipeUart{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *PipeUart) Open(path string, baud int) error { return nil }

func (p *PipeUart) Read(b []byte) (int, error) {
	if len(p.rbuf) == 0 {
		select {
		case chunk := <-p.in:
			p.rbuf = chunk
		case <-p.closed:
			return 0, io.EOF
		}
	}
	n := copy(b, p.rbuf)
	p.rbuf = p.rbuf[n:]
	return n, nil
}

func (p *PipeUart) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case p.out <- cp:
	case <-p.closed:
		return 0, io.ErrClosedPipe
	}
	return len(b), nil
}

func (p *PipeUart) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// Feed injects node-to-host bytes.
func (p *PipeUart) Feed(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case p.in <- cp:
	case <-p.closed:
	}
}

// Sent returns the next host-to-node write, or ok=false after timeout.
func (p *PipeUart) Sent(timeout time.Duration) (b []byte, ok bool) {
	select {
	case b = <-p.out:
		return b, true
	case <-p.closed:
		return nil, false
	case <-time.After(timeout):
		return nil, false
	}
}
