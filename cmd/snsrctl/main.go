// snsrctl discovers, connects to, and equips remote sensor nodes over a
// serial UART link or an MQTT bus.
//
//	snsrctl connect [--discover-only] [--transport serial|bus] [--device ID]
//	snsrctl equip   --bundle PATH [--describe|--compare] [--device ID]
//	snsrctl monitor
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/wireddown/snsrhost/cmd/snsrctl/subcmd"
	"github.com/wireddown/snsrhost/internal/state"
	"github.com/wireddown/snsrhost/log2"
)

var modules = []subcmd.Mod{
	{Name: "connect", Usage: "open an interactive session on a node", Main: connectMain},
	{Name: "equip", Usage: "install or upgrade a bundle on a node", Main: equipMain},
	{Name: "monitor", Usage: "tail node output from the bus", Main: monitorMain},
}

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.SetInterspersed(false)
	flagConfig := fs.String("config", "snsrhost.hcl", "host configuration file")
	flagVerbose := fs.BoolP("verbose", "v", false, "debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(subcmd.ExitUsage)
	}

	level := log2.LInfo
	if *flagVerbose {
		level = log2.LDebug
	}
	log := log2.NewStderr(level)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LServiceFlags)
	}

	args := fs.Args()
	if len(args) == 0 {
		usage(fs)
		os.Exit(subcmd.ExitUsage)
	}
	mod, err := subcmd.Parse(args[0], modules)
	if err != nil {
		log.Errorf("%v", err)
		usage(fs)
		os.Exit(subcmd.ExitUsage)
	}

	config := state.MustReadConfigFile(log, *flagConfig)
	log.Debugf("config=%+v", config)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := &subcmd.Env{Log: log, Config: config, Args: args[1:]}
	if err := mod.Main(ctx, env); err != nil {
		code := subcmd.ExitCode(err)
		log.Errorf("%s: %v", mod.Name, err)
		log.Debugf(errors.ErrorStack(err))
		os.Exit(code)
	}
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: snsrctl [flags] <command> [command flags]\n\ncommands:\n")
	for _, m := range modules {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", m.Name, m.Usage)
	}
	fmt.Fprintf(os.Stderr, "\nflags:\n%s", fs.FlagUsages())
}
