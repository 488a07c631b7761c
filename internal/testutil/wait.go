package testutil

import (
	"testing"
	"time"
)

// WaitFor polls fn every 5ms until it returns true, failing the test with
// what when timeout expires first.
func WaitFor(t *testing.T, timeout time.Duration, what string, fn func() bool) {
	t.Helper()
	if !Eventually(timeout, fn) {
		t.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
}

// Eventually polls fn every 5ms and reports whether it returned true before
// timeout expired.
func Eventually(timeout time.Duration, fn func() bool) bool {
	if fn() {
		return true
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ticker.C:
			if fn() {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

// Never checks that fn stays false for the whole duration.
func Never(t *testing.T, d time.Duration, what string, fn func() bool) {
	t.Helper()
	if Eventually(d, fn) {
		t.Fatalf("unexpectedly observed %s", what)
	}
}
