// Package cli carries the interactive prompt loop shared by snsrctl
// subcommands that talk to a node shell.
package cli

import (
	"bytes"
	"io"
	"os"
	"os/signal"
	"syscall"

	prompt "github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"

	"github.com/wireddown/snsrhost/log2"
)

// MainLoop reads lines and hands them to exec. Interactive terminals get
// completion and history via go-prompt; piped stdin is drained line by line
// so scripted use works the same way.
func MainLoop(log *log2.Log, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		for range signalCh {
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete, prompt.OptionPrefix("snsr> ")).Run()
		return
	}

	stdinAll, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatal(err)
	}
	for _, lineb := range bytes.Split(stdinAll, []byte{'\n'}) {
		line := string(bytes.TrimSpace(lineb))
		if line == "" {
			continue
		}
		exec(line)
	}
}
