package surface

import (
	"sync"

	"hotkeys2/internal/hotkeys"
)

// KeyEvent is one physical key-down event.
type KeyEvent struct {
	Key  string // KeyboardEvent.key, before normalization
	Code string // KeyboardEvent.code, used verbatim

	ShiftKey bool
	CtrlKey  bool
	AltKey   bool
	MetaKey  bool

	// Synthetic marks events that carry no modifier state (e.g. autofill
	// pseudo key events). Listeners ignore them.
	Synthetic bool

	// Target is the focused/originating element; nil when unknown.
	Target Element
}

// Modifiers packs the four flags into the entry bitset encoding.
func (ev KeyEvent) Modifiers() hotkeys.Modifier {
	var m hotkeys.Modifier
	if ev.ShiftKey {
		m |= hotkeys.ModShift
	}
	if ev.CtrlKey {
		m |= hotkeys.ModControl
	}
	if ev.AltKey {
		m |= hotkeys.ModAlt
	}
	if ev.MetaKey {
		m |= hotkeys.ModMeta
	}
	return m
}

var keyNameMap = map[string]string{
	"OS":      "Meta",
	"Decimal": "Period",
}

// KeyName returns the logical key name with legacy values normalized.
func (ev KeyEvent) KeyName() string {
	if name, ok := keyNameMap[ev.Key]; ok {
		return name
	}
	return ev.Key
}

// Listener handles one key-down event and reports whether the default
// action should be prevented.
type Listener func(ev KeyEvent) (preventDefault bool)

// EventSource is the ambient producer of key-down events.
type EventSource interface {
	// Listen installs l and returns a function that removes it.
	// The remove function is idempotent.
	Listen(l Listener) (remove func())
}

// Source is an in-memory EventSource. Producers (terminal adapters, the
// bridge hub, tests) push events with Emit.
type Source struct {
	mu        sync.Mutex
	nextID    int
	listeners []sourceListener
}

type sourceListener struct {
	id int
	fn Listener
}

// NewSource creates an event source with no listeners.
func NewSource() *Source {
	return &Source{}
}

// Listen implements EventSource.
func (s *Source) Listen(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, sourceListener{id: id, fn: l})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sl := range s.listeners {
				if sl.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every listener in installation order and reports
// whether any of them asked to prevent the default action.
func (s *Source) Emit(ev KeyEvent) bool {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	for i, sl := range s.listeners {
		listeners[i] = sl.fn
	}
	s.mu.Unlock()

	preventDefault := false
	for _, l := range listeners {
		if l(ev) {
			preventDefault = true
		}
	}
	return preventDefault
}

// ListenerCount returns the number of installed listeners.
func (s *Source) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
