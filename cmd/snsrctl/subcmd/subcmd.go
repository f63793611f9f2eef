// Package subcmd is the small sub-command registry for snsrctl.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/wireddown/snsrhost/internal/state"
	"github.com/wireddown/snsrhost/log2"
)

type Env struct {
	Log    *log2.Log
	Config *state.Config
	Args   []string // after the sub-command name
}

type Mod struct {
	Name  string
	Usage string
	Main  func(ctx context.Context, env *Env) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown command='%s'", command)
}

// SdNotify ignores "not under systemd"; anything else is a real problem.
func SdNotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", err)
	}
	return ok
}
