package workerutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hotkeys2/internal/testutil"
)

func TestRunWithPanicRecovery(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{name: "NormalExit_ContextCancel", fn: testNormalExitContextCancel},
		{name: "PanicRecovery_SingleRetry", fn: testPanicRecoverySingleRetry},
		{name: "PanicRecovery_MaxRetriesExhausted", fn: testPanicRecoveryMaxRetriesExhausted},
		{name: "ShutdownStopsRestart", fn: testShutdownStopsRestart},
		{name: "ContextCancelDuringBackoff", fn: testContextCancelDuringBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testNormalExitContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var panicCalled atomic.Int32

	RunWithPanicRecovery(ctx, "test-normal", &wg, func(ctx context.Context) {
		<-ctx.Done()
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		OnPanic:        func(string, int) { panicCalled.Add(1) },
	})

	cancel()
	wg.Wait()

	if panicCalled.Load() != 0 {
		t.Errorf("OnPanic called %d times, want 0", panicCalled.Load())
	}
}

func testPanicRecoverySingleRetry(t *testing.T) {
	var wg sync.WaitGroup
	var runs atomic.Int32
	var attempts []int
	var mu sync.Mutex

	RunWithPanicRecovery(t.Context(), "test-single", &wg, func(context.Context) {
		if runs.Add(1) == 1 {
			panic("first run fails")
		}
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRetries:     3,
		OnPanic: func(_ string, attempt int) {
			mu.Lock()
			attempts = append(attempts, attempt)
			mu.Unlock()
		},
	})
	wg.Wait()

	if got := runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 1 || attempts[0] != 1 {
		t.Errorf("OnPanic attempts = %v, want [1]", attempts)
	}
}

func testPanicRecoveryMaxRetriesExhausted(t *testing.T) {
	var wg sync.WaitGroup
	var runs atomic.Int32
	var fatal atomic.Int32

	RunWithPanicRecovery(t.Context(), "test-fatal", &wg, func(context.Context) {
		runs.Add(1)
		panic("always")
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRetries:     3,
		OnFatal: func(_ string, maxRetries int) {
			if maxRetries != 3 {
				t.Errorf("OnFatal maxRetries = %d, want 3", maxRetries)
			}
			fatal.Add(1)
		},
	})
	wg.Wait()

	if got := runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
	if got := fatal.Load(); got != 1 {
		t.Errorf("OnFatal called %d times, want 1", got)
	}
}

func testShutdownStopsRestart(t *testing.T) {
	var wg sync.WaitGroup
	var runs atomic.Int32
	var panicCalled atomic.Int32

	RunWithPanicRecovery(t.Context(), "test-shutdown", &wg, func(context.Context) {
		runs.Add(1)
		panic("during shutdown")
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxRetries:     5,
		IsShutdown:     func() bool { return true },
		OnPanic:        func(string, int) { panicCalled.Add(1) },
	})
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if got := panicCalled.Load(); got != 0 {
		t.Errorf("OnPanic called %d times during shutdown, want 0", got)
	}
}

func testContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runs atomic.Int32

	RunWithPanicRecovery(ctx, "test-cancel-backoff", &wg, func(context.Context) {
		runs.Add(1)
		panic("boom")
	}, RecoveryOptions{
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
		MaxRetries:     5,
		OnPanic:        func(string, int) { cancel() },
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after context cancel during backoff")
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name     string
		in       RecoveryOptions
		want     RecoveryOptions
		wantLogs []string
	}{
		{
			name: "zero values take defaults",
			in:   RecoveryOptions{},
			want: RecoveryOptions{InitialBackoff: defaultInitialBackoff, MaxBackoff: defaultMaxBackoff, MaxRetries: defaultMaxRetries},
			wantLogs: []string{
				"field=InitialBackoff", "field=MaxBackoff", "field=MaxRetries",
			},
		},
		{
			name: "explicit values kept",
			in:   RecoveryOptions{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, MaxRetries: 1},
			want: RecoveryOptions{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, MaxRetries: 1},
		},
		{
			name:     "max below initial is promoted",
			in:       RecoveryOptions{InitialBackoff: time.Second, MaxBackoff: time.Millisecond, MaxRetries: 3},
			want:     RecoveryOptions{InitialBackoff: time.Second, MaxBackoff: time.Second, MaxRetries: 3},
			wantLogs: []string{"MaxBackoff < InitialBackoff"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := testutil.CaptureLogBuffer(t, slog.LevelDebug)
			got := tt.in.applyDefaults()
			if got.InitialBackoff != tt.want.InitialBackoff || got.MaxBackoff != tt.want.MaxBackoff || got.MaxRetries != tt.want.MaxRetries {
				t.Errorf("applyDefaults() = %+v, want %+v", got, tt.want)
			}
			for _, want := range tt.wantLogs {
				if !strings.Contains(logs.String(), want) {
					t.Errorf("log missing %q:\n%s", want, logs.String())
				}
			}
			if len(tt.wantLogs) == 0 && logs.String() != "" {
				t.Errorf("unexpected log output:\n%s", logs.String())
			}
		})
	}
}

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("test-oneshot", func() {
		defer close(done)
		panic("callback failure")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Go did not run fn")
	}
}

func TestGoRunsOnce(t *testing.T) {
	var runs atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	Go("test-once", func() {
		defer wg.Done()
		runs.Add(1)
		panic("never retried")
	})
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		name    string
		current time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{name: "doubles", current: 100 * time.Millisecond, max: 5 * time.Second, want: 200 * time.Millisecond},
		{name: "caps at max", current: 4 * time.Second, max: 5 * time.Second, want: 5 * time.Second},
		{name: "already at max", current: 5 * time.Second, max: 5 * time.Second, want: 5 * time.Second},
		{name: "zero resets to default", current: 0, max: 5 * time.Second, want: defaultInitialBackoff},
		{name: "overflow guarded", current: time.Duration(1<<62 + 1), max: time.Duration(1<<63 - 1), want: time.Duration(1<<63 - 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextBackoff(tt.current, tt.max); got != tt.want {
				t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.current, tt.max, got, tt.want)
			}
		})
	}
}
