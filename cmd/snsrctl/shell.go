package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/cmd/snsrctl/subcmd"
	"github.com/wireddown/snsrhost/helpers/cli"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/session"
)

// runShell bridges stdin to the node's line shell through the session.
// Each line travels as one shell command; the node echoes its REPL output
// back in the response payload.
func runShell(ctx context.Context, env *subcmd.Env, sess *session.Session) {
	remote := sess.Remote()
	env.Log.Infof("connected to %s (%s, snsr %s) - 'exit' to quit",
		sess.Descriptor().Identity, orDash(remote.HardwareName), orDash(remote.SnsrVersion))

	cli.MainLoop(env.Log, func(line string) {
		line = strings.TrimSpace(line)
		switch line {
		case "":
			return
		case "exit", "quit", "bye":
			os.Exit(subcmd.ExitSuccess)
		}
		if err := shellExec(ctx, sess, line); err != nil {
			env.Log.Errorf("%v", err)
			if errors.Is(err, proto.ErrConnectionLost) {
				os.Exit(subcmd.ExitConnectionLost)
			}
		}
	}, shellComplete)
}

func shellExec(ctx context.Context, sess *session.Session, line string) error {
	cmd := proto.NewCommand(proto.VerbShell, proto.Arg{Name: "line", Value: line})
	resp, err := sess.Execute(ctx, cmd)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.Status == proto.StatusError {
		return errors.Errorf("node error: %s", resp.Message)
	}
	var out string
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &out); err != nil {
			out = string(resp.Payload)
		}
	}
	if out != "" {
		fmt.Fprintln(os.Stdout, out)
	}
	return nil
}

func shellComplete(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: proto.VerbPing, Description: "liveness check"},
		{Text: proto.VerbIdentify, Description: "print node descriptor"},
		{Text: proto.VerbInventory, Description: "list installed files"},
		{Text: "exit", Description: "close the session"},
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}
