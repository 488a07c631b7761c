// Package surface implements the dispatch surface: the side that owns the
// key-down listener, the table of registered hotkey entries keyed by handle,
// and the algorithm that matches one event against that table.
//
// A Surface is created by Attach, which installs exactly one listener on an
// EventSource. Register/Update/Unregister mutate the table; Dispose removes
// the listener. Matched entries are invoked fire-and-forget so a slow
// callback never delays later events or other entries of the same event.
package surface

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/workerutil"
)

// record is the subset of an entry needed for matching.
type record struct {
	target          hotkeys.Target
	mode            hotkeys.Mode
	modifiers       hotkeys.Modifier
	keyEntry        string
	exclude         hotkeys.Exclude
	excludeSelector string
	disabled        bool
}

// Surface is one attached dispatch surface.
//
// mu serializes table mutations against matching; it is never held while a
// target is invoked or an element selector is evaluated.
type Surface struct {
	mu       sync.Mutex
	nextID   int
	records  map[int]*record
	order    []int // registration order; handles are monotonic so this stays sorted
	disposed bool

	removeListener func()
}

// Attach creates a Surface and installs its single listener on src.
// Every call yields an independent listener and table; callers must not
// attach twice for the same consumer.
func Attach(src EventSource, d Delivery) *Surface {
	s := &Surface{records: make(map[int]*record)}
	s.removeListener = Forward(src, s, d)
	slog.Debug("[DEBUG-SURFACE] attached", "delivery", d)
	return s
}

// Register stores a dispatch record and returns its new handle. Handles are
// allocated from a monotonically increasing sequence and never reused within
// the attached lifetime.
func (s *Surface) Register(
	target hotkeys.Target,
	mode hotkeys.Mode,
	modifiers hotkeys.Modifier,
	keyEntry string,
	exclude hotkeys.Exclude,
	excludeSelector string,
	disabled bool,
) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := s.nextID
	s.nextID++
	s.records[handle] = &record{
		target:          target,
		mode:            mode,
		modifiers:       modifiers,
		keyEntry:        keyEntry,
		exclude:         exclude,
		excludeSelector: excludeSelector,
		disabled:        disabled,
	}
	s.order = append(s.order, handle)
	return handle
}

// Update overwrites the disabled flag of handle. Unknown handles are ignored:
// an update may race with a concurrent removal.
func (s *Surface) Update(handle int, disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[handle]; ok {
		rec.disabled = disabled
	}
}

// Unregister removes handle. NoHandle and already-removed handles are no-ops.
func (s *Surface) Unregister(handle int) {
	if handle == hotkeys.NoHandle {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[handle]; !ok {
		return
	}
	delete(s.records, handle)
	if i, found := slices.BinarySearch(s.order, handle); found {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// Dispose removes the listener. No events are matched afterwards.
// Safe to call more than once.
func (s *Surface) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.records = make(map[int]*record)
	s.order = nil
	remove := s.removeListener
	s.mu.Unlock()

	if remove != nil {
		remove()
	}
	slog.Debug("[DEBUG-SURFACE] disposed")
}

// Len returns the number of registered entries.
func (s *Surface) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// OnKeyDown matches ev against every registered, enabled entry in
// registration order and invokes each match. It reports whether any entry
// matched, which drives whether the default action is prevented.
//
// A malformed exclude selector aborts the event with an error wrapping
// ErrInvalidSelector; entries matched before it have already been invoked.
func (s *Surface) OnKeyDown(ev KeyEvent) (bool, error) {
	candidates := s.snapshot()
	if len(candidates) == 0 {
		return false, nil
	}

	eventModifiers := ev.Modifiers()
	key := ev.KeyName()
	code := ev.Code

	preventDefault := false
	for _, rec := range candidates {
		if !matches(rec, eventModifiers, key, code) {
			continue
		}
		excluded, err := IsExcludeTarget(rec.exclude, rec.excludeSelector, ev.Target)
		if err != nil {
			return false, err
		}
		if excluded {
			continue
		}
		preventDefault = true
		invoke(rec.target)
	}
	return preventDefault, nil
}

// snapshot copies the enabled records in registration order.
func (s *Surface) snapshot() []record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	out := make([]record, 0, len(s.order))
	for _, handle := range s.order {
		rec := s.records[handle]
		if rec == nil || rec.disabled {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// matches applies the key and modifier comparison of one entry.
//
// ByKey ignores Shift on both sides: shifted key values ("?" vs "/") already
// encode it. An entry whose key names a modifier key gets that modifier
// forced on, because the key-down of a pure modifier reports itself as held.
// Shift is only forced for ByCode ("ShiftLeft" is a code name).
func matches(rec record, eventModifiers hotkeys.Modifier, key, code string) bool {
	byCode := rec.mode == hotkeys.ByCode
	eventKeyEntry := key
	if byCode {
		eventKeyEntry = code
	}
	if eventKeyEntry != rec.keyEntry {
		return false
	}

	eventMods := eventModifiers
	entryMods := rec.modifiers
	if !byCode {
		eventMods = eventMods.Without(hotkeys.ModShift)
		entryMods = entryMods.Without(hotkeys.ModShift)
	}
	if byCode && strings.HasPrefix(rec.keyEntry, "Shift") {
		entryMods |= hotkeys.ModShift
	}
	if strings.HasPrefix(rec.keyEntry, "Control") {
		entryMods |= hotkeys.ModControl
	}
	if strings.HasPrefix(rec.keyEntry, "Alt") {
		entryMods |= hotkeys.ModAlt
	}
	if strings.HasPrefix(rec.keyEntry, "Meta") {
		entryMods |= hotkeys.ModMeta
	}
	return eventMods == entryMods
}

func invoke(target hotkeys.Target) {
	if target == nil {
		return
	}
	workerutil.Go("hotkey-callback", target.InvokeCallback)
}
