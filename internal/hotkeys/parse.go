package hotkeys

import (
	"fmt"
	"strings"
)

var modifierByName = map[string]Modifier{
	"CTRL":    ModControl,
	"CONTROL": ModControl,
	"SHIFT":   ModShift,
	"ALT":     ModAlt,
	"OPTION":  ModAlt,
	"META":    ModMeta,
	"CMD":     ModMeta,
	"COMMAND": ModMeta,
	"WIN":     ModMeta,
	"SUPER":   ModMeta,
	"OS":      ModMeta,
}

// keyAliases maps loosely written key names to KeyboardEvent.key values.
// Lookup is case-insensitive; anything else is kept verbatim.
var keyAliases = map[string]string{
	"ESC":      "Escape",
	"ESCAPE":   "Escape",
	"ENTER":    "Enter",
	"RETURN":   "Enter",
	"SPACE":    " ",
	"TAB":      "Tab",
	"DEL":      "Delete",
	"DELETE":   "Delete",
	"UP":       "ArrowUp",
	"DOWN":     "ArrowDown",
	"LEFT":     "ArrowLeft",
	"RIGHT":    "ArrowRight",
	"PLUS":     "+",
	"BACKTICK": "`",
}

// ParseBinding parses a binding like "Ctrl+Shift+KeyS" or "Ctrl+?".
//
// Modifier names are case-insensitive and may repeat (duplicates collapse).
// The final token is the key value (ByKey) or key code (ByCode) and keeps its
// case, because matching is case-sensitive. A trailing "++" names the "+" key.
// A binding without modifiers is valid.
func ParseBinding(mode Mode, spec string) (Binding, error) {
	if mode != ByKey && mode != ByCode {
		return Binding{}, fmt.Errorf("unknown hotkey mode %d", int(mode))
	}
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Binding{}, fmt.Errorf("hotkey spec is empty")
	}

	var keyToken string
	var modTokens []string
	switch {
	case raw == "+":
		keyToken = "+"
	case strings.HasSuffix(raw, "++"):
		keyToken = "+"
		modTokens = strings.Split(strings.TrimSuffix(raw, "++"), "+")
	default:
		parts := strings.Split(raw, "+")
		keyToken = strings.TrimSpace(parts[len(parts)-1])
		modTokens = parts[:len(parts)-1]
	}
	if keyToken == "" {
		return Binding{}, fmt.Errorf("missing hotkey key token in %q", raw)
	}

	var modifiers Modifier
	for _, token := range modTokens {
		name := strings.ToUpper(strings.TrimSpace(token))
		mod, ok := modifierByName[name]
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", token, raw)
		}
		modifiers |= mod
	}

	key := keyToken
	if mode == ByKey {
		if alias, ok := keyAliases[strings.ToUpper(keyToken)]; ok {
			key = alias
		}
	}

	return Binding{
		mode:       mode,
		modifiers:  modifiers,
		key:        key,
		normalized: formatBinding(modifiers, key),
	}, nil
}

// FormatBinding renders modifiers and key the way ParseBinding normalizes them.
func FormatBinding(modifiers Modifier, key string) string {
	return formatBinding(modifiers, key)
}

func formatBinding(modifiers Modifier, key string) string {
	name := key
	if name == " " {
		name = "Space"
	}
	if modifiers == ModNone {
		return name
	}
	return modifiers.String() + "+" + name
}
