// Command hotkeysd hosts the hotkey bridge: key producers connect to its
// /keys endpoint, and the hotkeys declared in its config file are attached
// over /attach and recorded in the journal when they fire.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"hotkeys2/internal/journal"
)

type options struct {
	configPath string
	addr       string
	recent     int
	debug      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()
	if opts.debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.recent > 0 {
		if err := printRecent(ctx, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	d := newDaemon(opts.configPath, opts.addr)
	defer d.shutdown()
	if err := d.startup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		return 1
	}

	<-ctx.Done()
	slog.Info("[DEBUG-DAEMON] shutdown requested")
	return 0
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to the config file (default: user config dir)")
	flag.StringVar(&opts.addr, "addr", "", "Override the listen address from the config file")
	flag.IntVar(&opts.recent, "recent", 0, "Print the newest N journal entries and exit")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return opts
}

// printRecent dumps the journal named by the config file.
func printRecent(ctx context.Context, opts options) error {
	cfg, path, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jp := journalPath(cfg, path)
	if jp == "" {
		return fmt.Errorf("journal disabled in %s", path)
	}
	j, err := journal.Open(jp)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, opts.recent, "")
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		ts := e.Time.Format("2006-01-02 15:04:05")
		switch e.Kind {
		case journal.KindFired:
			fmt.Fprintf(w, "%s\tfired\t%s\t%s\t%s\n", ts, e.Action, e.Binding, e.Description)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ts, e.Level, e.Source, e.Message)
		}
	}
	return w.Flush()
}
