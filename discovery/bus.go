package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
	"github.com/wireddown/snsrhost/transport/bus"
)

type BusConfig struct {
	Window time.Duration // how long to collect identify replies
	Log    *log2.Log
}

// Announcer is the slice of the shared bus connection that discovery needs.
// *bus.Conn satisfies it; tests script it.
type Announcer interface {
	NotifyDescriptors(h func(device string, payload []byte)) (func(), error)
	Broadcast(payload []byte) error
}

// ScanBus broadcasts an identify ping on the shared connection and collects
// descriptor announcements until the window closes. Nodes that share the
// broker answer independently; identities deduplicate, last announcement
// wins.
func ScanBus(ctx context.Context, conn Announcer, cfg BusConfig) ([]DeviceDescriptor, error) {
	if cfg.Window == 0 {
		cfg.Window = 2 * time.Second
	}

	type announce struct {
		device  string
		payload []byte
	}
	announceCh := make(chan announce, 16)
	cancelSub, err := conn.NotifyDescriptors(func(device string, payload []byte) {
		select {
		case announceCh <- announce{device, payload}:
		default:
			cfg.Log.Debugf("discovery bus drop announcement device=%s, collector is behind", device)
		}
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cancelSub()

	ping := proto.NewCommand(proto.VerbIdentify)
	payload, err := ping.Encode()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = conn.Broadcast(payload); err != nil {
		return nil, errors.Trace(err)
	}

	byIdentity := make(map[string]DeviceDescriptor)
	deadline := time.NewTimer(cfg.Window)
	defer deadline.Stop()
collect:
	for {
		select {
		case a := <-announceCh:
			d, err := proto.DecodeDescriptor(a.payload)
			if err != nil {
				cfg.Log.Debugf("discovery bus device=%s: %v", a.device, err)
				continue
			}
			desc := fromProto(d, transport.KindBus, bus.RequestTopic(d.NodeID))
			byIdentity[desc.Identity] = desc
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	found := make([]DeviceDescriptor, 0, len(byIdentity))
	for _, d := range byIdentity {
		found = append(found, d)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Identity < found[j].Identity })
	return found, nil
}
