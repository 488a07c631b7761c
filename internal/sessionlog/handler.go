// Package sessionlog tees slog records to a diagnostics sink such as the
// hotkey journal.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// EntryCallback receives each record at or above the capture threshold.
//   - msg: the record message, with the value of an "error" attribute appended
//     as ": <error>" when present.
//   - source: the accumulated slog group (dot-separated). Records logged
//     without a group fall back to the subsystem of a "[DEBUG-BRIDGE]"-style
//     message tag, lower-cased ("bridge").
type EntryCallback func(ts time.Time, level slog.Level, msg string, source string)

// TeeHandler wraps a base [slog.Handler] and tees records at or above minLevel
// to a callback. All records are forwarded to the base handler regardless of
// level; only the callback is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string
	// errAttr is an "error" attribute bound through WithAttrs.
	errAttr string
}

// NewTeeHandler creates a TeeHandler that delegates to base and invokes callback
// for every record whose level is >= minLevel. A nil callback only delegates.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Install makes a TeeHandler over the current default handler the new
// default and returns a func restoring the previous one.
func Install(minLevel slog.Level, callback EntryCallback) (restore func()) {
	prev := slog.Default()
	slog.SetDefault(slog.New(NewTeeHandler(prev.Handler(), minLevel, callback)))
	return func() { slog.SetDefault(prev) }
}

// Enabled lets the base handler decide visibility. Records below the base
// level are not teed either.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then invokes the callback
// if the record's level meets minLevel. The callback runs even when the base
// handler fails.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		msg := record.Message
		if cause := h.errorText(record); cause != "" {
			msg += ": " + cause
		}
		source := h.group
		if source == "" {
			source = tagSource(record.Message)
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					// stderr, not slog: logging here would re-enter this handler.
					fmt.Fprintf(os.Stderr, "[session-log] callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(record.Time, record.Level, msg, source)
		}()
	}

	// slog.Logger reports a returned error on stderr, which keeps base
	// handler failures visible.
	return err
}

func (h *TeeHandler) errorText(record slog.Record) string {
	text := h.errAttr
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "error" {
			text = a.Value.Resolve().String()
			return false
		}
		return true
	})
	return text
}

// WithAttrs applies attrs to the base handler. An "error" attribute bound
// here is appended to teed messages; attributes inside a group are not.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.base = h.base.WithAttrs(attrs)
	if h.group == "" {
		for _, a := range attrs {
			if a.Key == "error" {
				next.errAttr = a.Value.Resolve().String()
			}
		}
	}
	return &next
}

// WithGroup wraps the base handler with the group and appends name to the
// teed source, separated by ".".
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h // slog.Handler contract: empty group returns the receiver.
	}
	next := *h
	next.base = h.base.WithGroup(name)
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

// tagSource extracts "bridge" from "[DEBUG-BRIDGE] ..." and "config" from
// "[WARN-CONFIG] ...". Untagged messages yield "".
func tagSource(msg string) string {
	if !strings.HasPrefix(msg, "[") {
		return ""
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return ""
	}
	tag := msg[1:end]
	_, subsystem, ok := strings.Cut(tag, "-")
	if !ok || subsystem == "" {
		return strings.ToLower(tag)
	}
	return strings.ToLower(subsystem)
}
