package hotkeys

import "strings"

// Mode selects whether an entry matches the logical key value or the
// physical key code of a key-down event.
type Mode int

const (
	// ByKey matches KeyboardEvent.key (layout-dependent, e.g. "?" vs "/").
	ByKey Mode = 0
	// ByCode matches KeyboardEvent.code (layout-independent, e.g. "Slash").
	ByCode Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ByKey:
		return "key"
	case ByCode:
		return "code"
	default:
		return "unknown"
	}
}

// Modifier is the modifier bitset shared by entries and events.
// The bit values are part of the wire encoding and must not change.
type Modifier int

const (
	ModNone    Modifier = 0
	ModShift   Modifier = 0x01
	ModControl Modifier = 0x02
	ModAlt     Modifier = 0x04
	ModMeta    Modifier = 0x08
)

// Has reports whether all bits of mod are set in m.
func (m Modifier) Has(mod Modifier) bool { return m&mod == mod }

// Without returns m with the bits of mod cleared.
func (m Modifier) Without(mod Modifier) Modifier { return m &^ mod }

// String renders the modifier set as "Ctrl+Alt+Shift+Meta" (fixed order).
func (m Modifier) String() string {
	if m == ModNone {
		return ""
	}
	var parts []string
	if m.Has(ModControl) {
		parts = append(parts, "Ctrl")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "Alt")
	}
	if m.Has(ModShift) {
		parts = append(parts, "Shift")
	}
	if m.Has(ModMeta) {
		parts = append(parts, "Meta")
	}
	return strings.Join(parts, "+")
}

// Exclude is the bitset of focused-element categories that suppress an entry.
// The bit values are part of the wire encoding and must not change.
type Exclude int

const (
	ExcludeNone            Exclude = 0
	ExcludeInputText       Exclude = 0b0001
	ExcludeInputNonText    Exclude = 0b0010
	ExcludeTextArea        Exclude = 0b0100
	ExcludeContentEditable Exclude = 0b1000

	// ExcludeDefault suppresses shortcuts in natural typing contexts.
	// ContentEditable and custom selectors are opt-in.
	ExcludeDefault = ExcludeInputText | ExcludeInputNonText | ExcludeTextArea
)

// Has reports whether all bits of flag are set in e.
func (e Exclude) Has(flag Exclude) bool { return e&flag == flag }

var excludeNames = []struct {
	flag Exclude
	name string
}{
	{ExcludeInputText, "input-text"},
	{ExcludeInputNonText, "input-non-text"},
	{ExcludeTextArea, "textarea"},
	{ExcludeContentEditable, "content-editable"},
}

// String renders the set as a "|"-joined list of category names.
func (e Exclude) String() string {
	if e == ExcludeNone {
		return "none"
	}
	var parts []string
	for _, n := range excludeNames {
		if e.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ExcludeFromNames converts category names (as rendered by Exclude.String)
// into a bitset. "default" expands to ExcludeDefault and "none" contributes
// nothing. The second return value lists names that were not recognized.
func ExcludeFromNames(names []string) (Exclude, []string) {
	var (
		out     Exclude
		unknown []string
	)
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case "none":
			continue
		case "default":
			out |= ExcludeDefault
			continue
		}
		found := false
		for _, n := range excludeNames {
			if n.name == name {
				out |= n.flag
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, raw)
		}
	}
	return out, unknown
}

// NoHandle is the sentinel handle of an entry that is not (yet) registered
// on a dispatch surface.
const NoHandle = -1

// Binding describes a parsed hotkey declaration.
// Construct only via ParseBinding to guarantee invariant consistency.
type Binding struct {
	mode       Mode
	modifiers  Modifier
	key        string
	normalized string
}

// Mode returns whether Key names a key value or a key code.
func (b Binding) Mode() Mode { return b.mode }

// Modifiers returns the modifier bitmask.
func (b Binding) Modifiers() Modifier { return b.modifiers }

// Key returns the key value or code name being matched.
func (b Binding) Key() string { return b.key }

// Normalized returns the canonical human-readable binding string.
func (b Binding) Normalized() string { return b.normalized }
