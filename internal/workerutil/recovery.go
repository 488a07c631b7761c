// Package workerutil runs background goroutines with panic recovery.
//
// Two shapes are provided: RunWithPanicRecovery for long-lived loops that
// should be restarted after a panic (config watchers, transport pumps), and
// Go for one-shot fire-and-forget work such as hotkey callbacks, which must
// never be retried.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the delay before the first restart after a
	// worker panic. It doubles on each further attempt up to
	// defaultMaxBackoff, so a worker that panics on every run never spins.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the delay between restarts. A config watcher
	// that recovers is applying reloads again within this bound.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries bounds the total number of runs. With the backoff
	// above (100ms -> 200ms -> ... -> 5s) ten runs span roughly 30 seconds
	// before OnFatal reports the worker as gone.
	defaultMaxRetries = 10
)

// RecoveryOptions configures RunWithPanicRecovery.
//
// Zero-value semantics for numeric fields:
//   - Zero or negative means "use default"; applyDefaults replaces it
//     (InitialBackoff=100ms, MaxBackoff=5s, MaxRetries=10).
//   - MaxRetries 1 means "run once": a panic goes straight to OnFatal.
//   - There is no unlimited mode; MaxRetries is always a positive bound.
//
// Nil callbacks are no-ops.
type RecoveryOptions struct {
	// InitialBackoff is the delay before the first restart.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff between restarts. A value below
	// InitialBackoff is raised to InitialBackoff.
	MaxBackoff time.Duration

	// MaxRetries bounds the number of runs, the first one included.
	MaxRetries int

	// OnPanic is called after each recovered panic, before the backoff wait.
	// worker is the worker name and attempt is 1-based. It is not called when
	// IsShutdown reports true.
	OnPanic func(worker string, attempt int)

	// OnFatal is called once, when MaxRetries runs have panicked and the
	// worker stops for good.
	OnFatal func(worker string, maxRetries int)

	// IsShutdown reports that the owner is tearing down. The loop then exits
	// after a panic without restarting and without calling OnPanic, since the
	// owner's state (hub, journal, Context) may already be released.
	IsShutdown func() bool
}

// applyDefaults returns a copy of opts with out-of-range fields replaced by
// their defaults; the caller's struct is never mutated. It also resolves the
// contradictory MaxBackoff < InitialBackoff.
func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		slog.Debug("[DEBUG-WORKER] recovery option out of range, using default",
			"field", "InitialBackoff", "value", opts.InitialBackoff, "default", defaultInitialBackoff)
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		slog.Debug("[DEBUG-WORKER] recovery option out of range, using default",
			"field", "MaxBackoff", "value", opts.MaxBackoff, "default", defaultMaxBackoff)
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		slog.Debug("[DEBUG-WORKER] recovery option out of range, using default",
			"field", "MaxRetries", "value", opts.MaxRetries, "default", defaultMaxRetries)
		opts.MaxRetries = defaultMaxRetries
	}

	// Promote MaxBackoff so the backoff sequence never decreases.
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff < InitialBackoff, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery launches fn in a goroutine tracked by wg. A panic in fn
// is logged with its stack and fn is restarted after an exponential backoff.
// The loop ends when fn returns normally, ctx is cancelled, IsShutdown reports
// true or MaxRetries runs have panicked; in the last case OnFatal is called.
//
// fn receives ctx and should return once ctx is done. wg.Go tracks the
// goroutine before RunWithPanicRecovery returns, so a later wg.Wait cannot
// miss it. Safe to call from any goroutine.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.applyDefaults()

	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

// runRecoveryLoop is the restart loop of RunWithPanicRecovery, run on the
// worker goroutine.
func runRecoveryLoop(
	ctx context.Context,
	name string,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	delay := opts.InitialBackoff

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		// Normal exit, or a panic during cancellation: nothing to restart.
		if !runRecovered(name, func() { fn(ctx) }) || ctx.Err() != nil {
			return
		}
		// Shutdown guard. OnPanic is skipped too: the panic is already logged
		// and the owner's callbacks may touch released state.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] worker shutdown detected, stopping restart", "worker", name)
			return
		}

		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name,
			"restartDelay", delay,
			"attempt", attempt+1,
		)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt+1)
		}
		// No wait after the final run; it would only delay OnFatal.
		if attempt == opts.MaxRetries-1 {
			break
		}

		// Since Go 1.23 Stop guarantees no stale value on C, so no drain.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// Go runs fn once in its own goroutine. A panic is logged with its stack and
// swallowed; fn is never restarted.
func Go(name string, fn func()) {
	go runRecovered(name, fn)
}

// runRecovered calls fn and reports whether it panicked.
func runRecovered(name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] goroutine recovered from panic",
				"worker", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			panicked = true
		}
	}()
	fn()
	return false
}

// nextBackoff doubles current, capped at maxBackoff and guarded against overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
