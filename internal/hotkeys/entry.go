package hotkeys

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Target is anything a dispatch surface can invoke when an entry matches.
// Surfaces call InvokeCallback without waiting for it to finish.
type Target interface {
	InvokeCallback()
}

// Callback is the action bound to an entry. It receives the matched entry so
// a single handler can serve several bindings.
type Callback func(e *Entry)

// Action adapts a no-argument function to a Callback.
func Action(fn func()) Callback {
	if fn == nil {
		return nil
	}
	return func(*Entry) { fn() }
}

// State is the Context-side lifecycle state of an entry.
type State int

const (
	// StatePending: added, registration round-trip not yet resolved.
	StatePending State = iota
	// StateActive: the surface assigned a handle; the entry participates in matching.
	StateActive
	// StateAbandoned: attach or registration failed; the entry never matches.
	StateAbandoned
	// StateRemoved: removed from its Context.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateAbandoned:
		return "abandoned"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Entry is one hotkey binding owned by a Context.
//
// mode, modifiers, key, exclusion and description are fixed at construction.
// The disabled flag is the only field that changes while registered.
type Entry struct {
	hk *Context

	mode            Mode
	modifiers       Modifier
	keyEntry        string
	exclude         Exclude
	excludeSelector string
	description     string
	callback        Callback

	removedCh chan struct{}

	mu          sync.Mutex
	state       State
	handle      int
	disabled    bool
	syncing     bool // an Update round-trip is in flight
	syncPending bool // disabled changed while syncing
}

var _ Target = (*Entry)(nil)

func newEntry(hk *Context, mode Mode, modifiers Modifier, keyEntry string, cb Callback, o entryOptions) *Entry {
	return &Entry{
		hk:              hk,
		mode:            mode,
		modifiers:       modifiers,
		keyEntry:        keyEntry,
		exclude:         o.exclude,
		excludeSelector: o.excludeSelector,
		description:     o.description,
		callback:        cb,
		removedCh:       make(chan struct{}),
		state:           StatePending,
		handle:          NoHandle,
		disabled:        o.disabled,
	}
}

// Mode returns whether the entry matches by key value or by key code.
func (e *Entry) Mode() Mode { return e.mode }

// Modifiers returns the declared modifier set.
func (e *Entry) Modifiers() Modifier { return e.modifiers }

// KeyEntry returns the key value (ByKey) or code name (ByCode).
func (e *Entry) KeyEntry() string { return e.keyEntry }

// Exclude returns the exclusion categories.
func (e *Entry) Exclude() Exclude { return e.exclude }

// ExcludeSelector returns the additional exclusion selector ("" for none).
func (e *Entry) ExcludeSelector() string { return e.excludeSelector }

// Description returns the free-text label.
func (e *Entry) Description() string { return e.description }

// Handle returns the surface handle, or NoHandle unless Active.
func (e *Entry) Handle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// State returns the current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Disabled reports whether the entry is disabled.
func (e *Entry) Disabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled
}

// SetDisabled changes the disabled flag. A disabled entry stays registered
// but never matches. When the entry is Active the surface is updated in the
// background; a change made while Pending is applied once the handle arrives.
func (e *Entry) SetDisabled(disabled bool) {
	e.mu.Lock()
	if e.disabled == disabled {
		e.mu.Unlock()
		return
	}
	e.disabled = disabled
	active := e.state == StateActive
	e.mu.Unlock()

	if active {
		e.hk.syncDisabled(e)
	}
}

// InvokeCallback runs the entry's callback. Removed entries are skipped: an
// event may race with removal before the surface has dropped the handle.
func (e *Entry) InvokeCallback() {
	if e.State() == StateRemoved || e.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] hotkey callback panicked",
				"binding", e.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	e.callback(e)
}

// String renders the entry as "key:Ctrl+s" or "code:Shift+KeyA".
func (e *Entry) String() string {
	return fmt.Sprintf("%s:%s", e.mode, FormatBinding(e.modifiers, e.keyEntry))
}

// activate records the handle assigned by the surface. It reports false if
// the entry was removed meanwhile; the caller then owns the handle and must
// unregister it. resync reports that disabled changed during the round-trip.
func (e *Entry) activate(handle int, registeredDisabled bool) (ok, resync bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRemoved {
		return false, false
	}
	e.state = StateActive
	e.handle = handle
	return true, e.disabled != registeredDisabled
}

// abandon moves a Pending entry to Abandoned.
func (e *Entry) abandon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePending {
		e.state = StateAbandoned
	}
}

// markRemoved moves the entry to Removed and returns its previous state and
// handle. It reports false when the entry was already removed.
func (e *Entry) markRemoved() (prev State, handle int, ok bool) {
	e.mu.Lock()
	if e.state == StateRemoved {
		e.mu.Unlock()
		return StateRemoved, NoHandle, false
	}
	prev, handle = e.state, e.handle
	e.state = StateRemoved
	e.handle = NoHandle
	e.mu.Unlock()
	close(e.removedCh)
	return prev, handle, true
}

// registrationDisabled reports the flag to send with Register and whether
// the entry is still wanted.
func (e *Entry) registrationDisabled() (disabled, wanted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled, e.state != StateRemoved
}

func (e *Entry) equalsCriteria(mode Mode, modifiers Modifier, keyEntry string, o entryOptions) bool {
	return e.mode == mode &&
		e.modifiers == modifiers &&
		e.keyEntry == keyEntry &&
		e.description == o.description &&
		e.exclude == o.exclude &&
		e.excludeSelector == o.excludeSelector
}
