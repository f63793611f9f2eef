package discovery

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
	"github.com/wireddown/snsrhost/transport/serial"
)

// ProbeFunc asks one candidate port to identify itself. Overridable in tests.
type ProbeFunc func(ctx context.Context, port string) (*proto.Descriptor, error)

type SerialConfig struct {
	Globs        []string // candidate port patterns, e.g. /dev/ttyACM*
	Baud         int
	ProbeTimeout time.Duration
	Limit        int // stop after this many nodes, 0 = probe everything

	Probe ProbeFunc
	Log   *log2.Log
}

// ScanSerial probes all candidate ports concurrently and returns a
// descriptor per port that answered the identity handshake. Once Limit nodes
// have answered the remaining probes are cancelled cooperatively: each probe
// observes the shared context at its next blocking point.
func ScanSerial(ctx context.Context, cfg SerialConfig) ([]DeviceDescriptor, error) {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if len(cfg.Globs) == 0 {
		cfg.Globs = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	}
	probe := cfg.Probe
	if probe == nil {
		probe = serialProbe(cfg)
	}

	ports := make([]string, 0, 8)
	seen := make(map[string]struct{})
	for _, g := range cfg.Globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, errors.Annotatef(err, "port glob %q", g)
		}
		for _, m := range matches {
			if _, dup := seen[m]; !dup {
				seen[m] = struct{}{}
				ports = append(ports, m)
			}
		}
	}
	sort.Strings(ports)
	if len(ports) == 0 {
		return nil, nil
	}

	type probeResult struct {
		port string
		desc *proto.Descriptor
		err  error
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := alive.NewAlive()
	results := make(chan probeResult, len(ports))
	for _, port := range ports {
		if !a.Add(1) {
			break
		}
		go func(port string) {
			defer a.Done()
			pctx, pcancel := context.WithTimeout(scanCtx, cfg.ProbeTimeout)
			defer pcancel()
			d, err := probe(pctx, port)
			results <- probeResult{port: port, desc: d, err: err}
		}(port)
	}

	found := make([]DeviceDescriptor, 0, len(ports))
	for range ports {
		r := <-results
		if r.err != nil {
			cfg.Log.Debugf("discovery serial %s: %v", r.port, r.err)
			continue
		}
		found = append(found, fromProto(r.desc, transport.KindSerial, r.port))
		if cfg.Limit > 0 && len(found) >= cfg.Limit {
			cancel() // cooperative: pending probes fail at their next wait
			break
		}
	}
	a.Stop()
	a.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Endpoint < found[j].Endpoint })
	return found, ctx.Err()
}

// serialProbe opens the port and runs one identify exchange, no retries:
// a port that cannot answer inside the probe window is not a sensor node.
func serialProbe(cfg SerialConfig) ProbeFunc {
	return func(ctx context.Context, port string) (*proto.Descriptor, error) {
		tr, err := serial.Open(port, serial.Options{Baud: cfg.Baud, Log: cfg.Log})
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer tr.Close()

		cmd := proto.NewCommand(proto.VerbIdentify)
		cmd.TID = 1
		payload, err := cmd.Encode()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = tr.Send(transport.Frame{TID: cmd.TID, Payload: payload}); err != nil {
			return nil, errors.Trace(err)
		}
		for {
			f, err := tr.Receive(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			resp, err := proto.DecodeResponse(f.Payload)
			if err != nil || resp.TID != cmd.TID || resp.Status != proto.StatusOk {
				continue // boot chatter or stale frame
			}
			return proto.DecodeDescriptor(resp.Payload)
		}
	}
}
