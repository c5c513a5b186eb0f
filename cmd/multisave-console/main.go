// Package main is the terminal console for a running multisave engine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/juju/loggo"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/internal/console"
	"github.com/joe/multisave/internal/remote"
)

func main() {
	args := config.ParseConsoleArgs()

	// Log output would corrupt the alternate screen.
	_, _ = loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(io.Discard, loggo.DefaultFormatter))

	client := remote.NewClient(args.Addr)
	bridge := console.NewBridge()
	client.OnDisconnected(bridge.Disconnected)

	statuses, err := client.StartListening(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bridge.Pump(statuses)

	var opts []tea.ProgramOption
	if term.IsTerminal(int(os.Stdout.Fd())) {
		opts = append(opts, tea.WithAltScreen())
	}

	p := tea.NewProgram(console.New(client, bridge, args.Addr), opts...)

	_, err = p.Run()

	_ = client.Disconnect()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
