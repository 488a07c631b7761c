// Command hotkeys-tui feeds terminal key presses into an in-process dispatch
// surface and shows which hotkeys fired. With -daemon it also forwards every
// key press to a running hotkeysd.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hotkeys2/internal/bridge"
	"hotkeys2/internal/config"
)

const dialTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		daemonURL  string
		logPath    string
	)
	flag.StringVar(&configPath, "config", "", "Bind the hotkeys of this config file instead of the demo set")
	flag.StringVar(&daemonURL, "daemon", "", "hotkeysd keys endpoint to forward key presses to (e.g. ws://127.0.0.1:17321/keys)")
	flag.StringVar(&logPath, "log", "", "Write logs to this file (the terminal is owned by the UI)")
	flag.Parse()

	// The alternate screen would be garbled by log lines.
	logOut := io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open log: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug})))

	bindings := demoBindings
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
			return 1
		}
		bindings = cfg.Bindings
	}

	var remote *bridge.KeyClient
	if daemonURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		kc, err := bridge.DialKeys(ctx, daemonURL)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: connect to daemon: %v\n", err)
			return 1
		}
		remote = kc
	}

	m := newModel(bindings, remote)
	defer m.close()

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
