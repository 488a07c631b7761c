package surface

import (
	"log/slog"

	"hotkeys2/internal/workerutil"
)

// Matcher runs the match-and-invoke algorithm for one event.
type Matcher interface {
	OnKeyDown(ev KeyEvent) (preventDefault bool, err error)
}

// Delivery selects how a listener hands events to its Matcher.
type Delivery int

const (
	// DeliverSync waits for the matcher and uses its result to prevent the
	// default action.
	DeliverSync Delivery = iota
	// DeliverAsync runs the matcher on its own goroutine; the listener never
	// prevents the default action.
	DeliverAsync
)

func (d Delivery) String() string {
	switch d {
	case DeliverSync:
		return "sync"
	case DeliverAsync:
		return "async"
	default:
		return "unknown"
	}
}

// ParseDelivery maps "sync"/"async" to a Delivery. Unknown values yield
// DeliverSync and false.
func ParseDelivery(s string) (Delivery, bool) {
	switch s {
	case "sync", "":
		return DeliverSync, true
	case "async":
		return DeliverAsync, true
	default:
		return DeliverSync, false
	}
}

// Forward installs a single listener on src that feeds m using delivery d.
// It returns the listener's remove function.
func Forward(src EventSource, m Matcher, d Delivery) func() {
	return src.Listen(func(ev KeyEvent) bool {
		if ev.Synthetic {
			return false
		}
		if d == DeliverAsync {
			workerutil.Go("surface-keydown", func() { runMatcher(m, ev) })
			return false
		}
		return runMatcher(m, ev)
	})
}

func runMatcher(m Matcher, ev KeyEvent) bool {
	preventDefault, err := m.OnKeyDown(ev)
	if err != nil {
		slog.Error("[DEBUG-SURFACE] keydown matching failed", "key", ev.Key, "code", ev.Code, "error", err)
		return false
	}
	return preventDefault
}
