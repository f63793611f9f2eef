package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/wireddown/snsrhost/cmd/snsrctl/subcmd"
	"github.com/wireddown/snsrhost/transport/bus"
)

// monitorMain tails the group's log topic until interrupted. Long-running:
// notifies systemd when supervised.
func monitorMain(ctx context.Context, env *subcmd.Env) error {
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	if err := fs.Parse(env.Args); err != nil {
		return err
	}

	conn, err := bus.Dial(env.Config.BusConfig(env.Log))
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	cancelSub, err := conn.NotifyLog(func(payload []byte) {
		fmt.Fprintf(os.Stdout, "%s\n", payload)
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer cancelSub()

	subcmd.SdNotify(env.Log, daemon.SdNotifyReady)
	env.Log.Infof("monitoring %s on %s", bus.LogTopic(), env.Config.Mqtt.Broker)

	select {
	case <-ctx.Done():
		subcmd.SdNotify(env.Log, daemon.SdNotifyStopping)
		return nil
	case <-conn.Closed():
		return errors.New("bus connection closed")
	}
}
