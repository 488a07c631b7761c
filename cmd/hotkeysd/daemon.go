package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"hotkeys2/internal/bridge"
	"hotkeys2/internal/config"
	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/journal"
	"hotkeys2/internal/sessionlog"
	"hotkeys2/internal/workerutil"
)

const (
	shutdownWaitTimeout = 10 * time.Second
	journalWriteTimeout = 2 * time.Second
)

// daemon owns the hub, the Context attached to it over the bridge, and the
// bindings declared by the config file.
type daemon struct {
	configPath   string
	addrOverride string

	cfg        config.Config
	hub        *bridge.Hub
	hk         *hotkeys.Context
	journal    *journal.Journal
	restoreLog func()

	bgWG     sync.WaitGroup
	stopBG   context.CancelFunc
	shutOnce sync.Once

	// bindMu serializes applyBindings and guards generation, the owner of
	// the currently applied bindings.
	bindMu     sync.Mutex
	generation *hotkeys.Lifecycle
}

func newDaemon(configPath, addrOverride string) *daemon {
	return &daemon{configPath: configPath, addrOverride: addrOverride}
}

// loadConfig reads the config file. The default path is created on first
// run; an explicit path must already be valid (a missing file means defaults).
func loadConfig(path string) (config.Config, string, error) {
	if path == "" {
		path = config.DefaultPath()
		cfg, err := config.EnsureFile(path)
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// journalPath resolves a relative journal path against the config directory.
func journalPath(cfg config.Config, configPath string) string {
	if cfg.Journal == "" || filepath.IsAbs(cfg.Journal) {
		return cfg.Journal
	}
	return filepath.Join(filepath.Dir(configPath), cfg.Journal)
}

func (d *daemon) startup(ctx context.Context) error {
	cfg, path, err := loadConfig(d.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	d.configPath = path
	if d.addrOverride != "" {
		cfg.Addr = d.addrOverride
	}
	d.cfg = cfg

	if jp := journalPath(cfg, path); jp != "" {
		j, err := journal.Open(jp)
		if err != nil {
			return err
		}
		d.journal = j
		d.restoreLog = sessionlog.Install(slog.LevelWarn, j.Diagnostic)
	}

	d.hub = bridge.NewHub(bridge.HubOptions{Addr: cfg.Addr, Delivery: cfg.DeliveryMode()})
	if err := d.hub.Start(ctx); err != nil {
		return err
	}

	d.hk = hotkeys.NewContext(bridge.Attacher(d.hub.AttachURL()), hotkeys.WithCallTimeout(cfg.CallTimeout))
	d.applyBindings(cfg.Bindings)

	bgCtx, cancel := context.WithCancel(ctx)
	d.stopBG = cancel
	workerutil.RunWithPanicRecovery(bgCtx, "config-watcher", &d.bgWG, func(ctx context.Context) {
		if err := config.Watch(ctx, d.configPath, d.onConfigChange); err != nil {
			slog.Warn("[WARN-CONFIG] config watcher stopped", "path", d.configPath, "error", err)
		}
	}, d.recoveryOptions(bgCtx))

	slog.Info("[DEBUG-DAEMON] started",
		"config", d.configPath,
		"attach", d.hub.AttachURL(),
		"keys", d.hub.KeysURL(),
		"bindings", len(cfg.Bindings),
	)
	return nil
}

func (d *daemon) recoveryOptions(ctx context.Context) workerutil.RecoveryOptions {
	return workerutil.RecoveryOptions{
		OnPanic: func(worker string, attempt int) {
			slog.Warn("[DEBUG-PANIC] restarting worker after panic", "worker", worker, "attempt", attempt)
		},
		OnFatal: func(worker string, maxRetries int) {
			slog.Error("[DEBUG-PANIC] worker gave up; config changes are no longer applied",
				"worker", worker, "maxRetries", maxRetries)
		},
		IsShutdown: func() bool { return ctx.Err() != nil },
	}
}

// applyBindings replaces the bound set. The previous generation is removed
// through its owner before the new one is added, so a binding kept across a
// reload is never bound twice. Entries still attaching are released as well.
func (d *daemon) applyBindings(bindings []config.Binding) {
	d.bindMu.Lock()
	defer d.bindMu.Unlock()

	if d.generation != nil {
		d.generation.Dispose()
	}
	next := hotkeys.NewLifecycle()
	d.generation = next

	for _, b := range bindings {
		parsed, err := b.Parse()
		if err != nil {
			// Load already validated the file; skip rather than fail a reload.
			slog.Warn("[DEBUG-DAEMON] skipping invalid binding", "binding", b.Binding, "error", err)
			continue
		}
		action := b.ActionName()
		opts := append(b.Options(), hotkeys.WithOwner(next))
		d.hk.AddBinding(parsed, func(e *hotkeys.Entry) { d.fire(action, e) }, opts...)
	}
	slog.Debug("[DEBUG-DAEMON] bindings applied", "count", len(bindings))
}

func (d *daemon) fire(action string, e *hotkeys.Entry) {
	slog.Info("[DEBUG-DAEMON] hotkey fired", "action", action, "binding", e.String())
	if d.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := d.journal.Fired(ctx, action, e.String(), e.Description()); err != nil && !errors.Is(err, journal.ErrClosed) {
		slog.Warn("[DEBUG-DAEMON] journal write failed", "action", action, "error", err)
	}
}

// onConfigChange rebinds after a reload. Listen address, delivery, journal
// and call timeout are fixed for the daemon's lifetime.
func (d *daemon) onConfigChange(cfg config.Config, err error) {
	if err != nil {
		slog.Warn("[WARN-CONFIG] keeping current bindings", "error", err)
		return
	}
	if d.addrOverride != "" {
		cfg.Addr = d.addrOverride
	}
	if cfg.Addr != d.cfg.Addr || cfg.Delivery != d.cfg.Delivery || cfg.Journal != d.cfg.Journal || cfg.CallTimeout != d.cfg.CallTimeout {
		slog.Warn("[WARN-CONFIG] addr, delivery, journal and call_timeout changes apply after restart")
	}
	d.applyBindings(cfg.Bindings)
}

// shutdown releases everything startup acquired. Safe after a failed startup
// and idempotent.
func (d *daemon) shutdown() {
	d.shutOnce.Do(func() {
		if d.stopBG != nil {
			d.stopBG()
		}
		done := make(chan struct{})
		go func() {
			d.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownWaitTimeout):
			slog.Warn("[DEBUG-DAEMON] background workers did not stop in time")
		}

		if d.hk != nil {
			d.hk.Dispose()
		}
		if d.hub != nil {
			if err := d.hub.Stop(); err != nil {
				slog.Warn("[DEBUG-DAEMON] hub stop failed", "error", err)
			}
		}
		if d.restoreLog != nil {
			d.restoreLog()
		}
		if d.journal != nil {
			if err := d.journal.Close(); err != nil {
				slog.Warn("[DEBUG-DAEMON] journal close failed", "error", err)
			}
		}
		slog.Info("[DEBUG-DAEMON] stopped")
	})
}
