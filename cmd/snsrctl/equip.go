package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/wireddown/snsrhost/cmd/snsrctl/subcmd"
	"github.com/wireddown/snsrhost/equip"
	"github.com/wireddown/snsrhost/transport"
)

func equipMain(ctx context.Context, env *subcmd.Env) error {
	fs := pflag.NewFlagSet("equip", pflag.ContinueOnError)
	bundlePath := fs.String("bundle", "", "bundle directory or manifest.json")
	transportName := fs.String("transport", "serial", "serial|bus")
	deviceID := fs.String("device", "", "node identity, or 'last'")
	describe := fs.Bool("describe", false, "print the local bundle and exit")
	compare := fs.Bool("compare", false, "diff bundle against the device, no writes")
	if err := fs.Parse(env.Args); err != nil {
		return err
	}
	if *bundlePath == "" {
		return errors.NotValidf("--bundle is required")
	}
	kind, err := transport.ParseKind(*transportName)
	if err != nil {
		return err
	}

	bundle, err := loadBundle(*bundlePath)
	if err != nil {
		return errors.Trace(err)
	}

	if *describe {
		printLines(bundle.Describe())
		return nil
	}

	sess, cleanup, err := openSession(ctx, env, kind, *deviceID, true)
	if err != nil {
		return err
	}
	defer cleanup()
	defer sess.Close()

	if *compare {
		report, err := equip.Compare(ctx, sess, bundle)
		if err != nil {
			return errors.Trace(err)
		}
		printLines(report.Lines())
		return nil
	}

	report, err := equip.Equip(ctx, sess, bundle, env.Log)
	printLines(report.Lines())
	return errors.Trace(err)
}

func loadBundle(path string) (*equip.Bundle, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if st.IsDir() {
		return equip.LoadDir(path)
	}
	return equip.LoadManifest(path)
}

func printLines(lines []string) {
	for _, line := range lines {
		fmt.Fprintln(os.Stdout, line)
	}
}
