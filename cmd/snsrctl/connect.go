package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/wireddown/snsrhost/cmd/snsrctl/subcmd"
	"github.com/wireddown/snsrhost/discovery"
	"github.com/wireddown/snsrhost/internal/state"
	"github.com/wireddown/snsrhost/session"
	"github.com/wireddown/snsrhost/transport"
	"github.com/wireddown/snsrhost/transport/bus"
	"github.com/wireddown/snsrhost/transport/serial"
)

func connectMain(ctx context.Context, env *subcmd.Env) error {
	fs := pflag.NewFlagSet("connect", pflag.ContinueOnError)
	discoverOnly := fs.Bool("discover-only", false, "list reachable nodes and exit")
	transportName := fs.String("transport", "serial", "serial|bus")
	deviceID := fs.String("device", "", "node identity, or 'last' for the cached one")
	if err := fs.Parse(env.Args); err != nil {
		return err
	}
	kind, err := transport.ParseKind(*transportName)
	if err != nil {
		return err
	}

	if *discoverOnly {
		found, err := discover(ctx, env, kind)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			env.Log.Infof("no sensor nodes found")
			return subcmd.ErrNothingDiscovered
		}
		printDeviceTable(found)
		return nil
	}

	sess, cleanup, err := openSession(ctx, env, kind, *deviceID, false)
	if err != nil {
		return err
	}
	defer cleanup()

	runShell(ctx, env, sess)
	return errors.Trace(sess.Close())
}

func discover(ctx context.Context, env *subcmd.Env, kind transport.Kind) ([]discovery.DeviceDescriptor, error) {
	switch kind {
	case transport.KindSerial:
		return discovery.ScanSerial(ctx, discovery.SerialConfig{
			Globs: env.Config.Serial.Globs,
			Baud:  env.Config.Serial.Baud,
			Log:   env.Log,
		})
	case transport.KindBus:
		conn, err := bus.Dial(env.Config.BusConfig(env.Log))
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer conn.Close()
		return discovery.ScanBus(ctx, conn, discovery.BusConfig{Log: env.Log})
	}
	return nil, errors.NotValidf("transport kind=%s", kind)
}

// openSession discovers (or recalls) a device, connects and caches the
// descriptor for `--device last`. reliable pins bus traffic to
// at-least-once, required for equip transfers.
func openSession(ctx context.Context, env *subcmd.Env, kind transport.Kind, deviceID string, reliable bool) (*session.Session, func(), error) {
	cache := state.NewDescriptorCache(env.Log, env.Config.CacheDir)
	cleanup := func() {}

	var desc discovery.DeviceDescriptor
	if deviceID == "last" {
		cached, err := cache.Load()
		if err != nil {
			return nil, cleanup, errors.Trace(err)
		}
		if cached == nil {
			return nil, cleanup, errors.Errorf("no cached device, run discovery first")
		}
		desc = *cached
		kind = desc.Kind
	} else {
		found, err := discover(ctx, env, kind)
		if err != nil {
			return nil, cleanup, errors.Trace(err)
		}
		if len(found) == 0 {
			return nil, cleanup, subcmd.ErrNothingDiscovered
		}
		desc = found[0]
		if deviceID != "" {
			matched := false
			for _, d := range found {
				if d.Identity == deviceID {
					desc, matched = d, true
					break
				}
			}
			if !matched {
				return nil, cleanup, errors.Errorf("device=%s not among %d discovered nodes", deviceID, len(found))
			}
		}
	}

	var dial session.Dialer
	switch desc.Kind {
	case transport.KindSerial:
		dial = func(ctx context.Context, d discovery.DeviceDescriptor) (transport.Transport, error) {
			return serial.Open(d.Endpoint, serial.Options{Baud: env.Config.Serial.Baud, Log: env.Log})
		}
	case transport.KindBus:
		conn, err := bus.Dial(env.Config.BusConfig(env.Log))
		if err != nil {
			return nil, cleanup, errors.Trace(err)
		}
		cleanup = func() { conn.Close() }
		qos := byte(env.Config.Mqtt.QosCommand)
		if reliable && qos < 1 {
			qos = 1
		}
		dial = func(ctx context.Context, d discovery.DeviceDescriptor) (transport.Transport, error) {
			return conn.Bind(d.Identity, qos), nil
		}
	default:
		return nil, cleanup, errors.NotValidf("transport kind=%s", desc.Kind)
	}

	sess := session.New(env.Log, env.Config.SessionConfig())
	if err := sess.Connect(ctx, desc, dial); err != nil {
		cleanup()
		return nil, func() {}, errors.Trace(err)
	}
	if err := cache.Store(sess.Descriptor()); err != nil {
		env.Log.Debugf("descriptor cache: %v", err)
	}
	return sess, cleanup, nil
}

func printDeviceTable(found []discovery.DeviceDescriptor) {
	fmt.Fprintf(os.Stdout, "%-20s %-6s %-28s %-16s %s\n", "IDENTITY", "KIND", "ENDPOINT", "VERSION", "HARDWARE")
	for _, d := range found {
		fmt.Fprintf(os.Stdout, "%-20s %-6s %-28s %-16s %s\n",
			d.Identity, d.Kind, d.Endpoint, orDash(d.SnsrVersion), orDash(d.HardwareName))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
