package bus

import (
	"sync"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/transport"
)

type waiterKey struct {
	device string
	tid    uint32
}

// Demux is the one piece of shared mutable state on the bus: it hands each
// incoming response to at most one registered waiter. Responses with no
// waiter (late replies to a timed-out attempt, traffic for other hosts) are
// dropped, never treated as errors.
type Demux struct {
	mu      sync.Mutex
	waiters map[waiterKey]chan transport.Frame
	log     *log2.Log
}

func NewDemux(log *log2.Log) *Demux {
	return &Demux{
		waiters: make(map[waiterKey]chan transport.Frame),
		log:     log,
	}
}

// Register claims (device, tid) for one pending command and returns the
// channel its response will arrive on. Overlapping registration is a session
// serialization bug upstream, surfaced loudly.
func (d *Demux) Register(device string, tid uint32) (<-chan transport.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := waiterKey{device, tid}
	if _, exists := d.waiters[k]; exists {
		return nil, errors.Errorf("CRITICAL demux duplicate waiter device=%s tid=%d", device, tid)
	}
	ch := make(chan transport.Frame, 1)
	d.waiters[k] = ch
	return ch, nil
}

func (d *Demux) Unregister(device string, tid uint32) {
	d.mu.Lock()
	delete(d.waiters, waiterKey{device, tid})
	d.mu.Unlock()
}

// Offer routes one incoming frame. Returns false when nobody is waiting.
func (d *Demux) Offer(device string, f transport.Frame) bool {
	d.mu.Lock()
	ch, ok := d.waiters[waiterKey{device, f.TID}]
	d.mu.Unlock()
	if !ok {
		d.log.Debugf("bus demux drop device=%s tid=%d no waiter", device, f.TID)
		return false
	}
	select {
	case ch <- f:
		return true
	default:
		// at-least-once delivery can duplicate; the first copy won
		d.log.Debugf("bus demux drop device=%s tid=%d duplicate", device, f.TID)
		return false
	}
}

func (d *Demux) dropAll(device string) {
	d.mu.Lock()
	for k := range d.waiters {
		if k.device == device {
			delete(d.waiters, k)
		}
	}
	d.mu.Unlock()
}
