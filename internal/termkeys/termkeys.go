// Package termkeys turns terminal key messages into surface key events.
//
// A terminal reports a key press as text ("ctrl+s", "alt+enter", "?"), not as
// a key/code pair, so the physical code is reconstructed for a US layout and
// Shift is inferred from the produced character.
package termkeys

import (
	"strings"
	"unicode"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"hotkeys2/internal/surface"
)

type named struct {
	key  string
	code string
}

// namedKeys maps bubbletea key names to KeyboardEvent key/code values.
var namedKeys = map[string]named{
	"enter":     {"Enter", "Enter"},
	"tab":       {"Tab", "Tab"},
	"esc":       {"Escape", "Escape"},
	"backspace": {"Backspace", "Backspace"},
	"delete":    {"Delete", "Delete"},
	"insert":    {"Insert", "Insert"},
	"home":      {"Home", "Home"},
	"end":       {"End", "End"},
	"pgup":      {"PageUp", "PageUp"},
	"pgdown":    {"PageDown", "PageDown"},
	"up":        {"ArrowUp", "ArrowUp"},
	"down":      {"ArrowDown", "ArrowDown"},
	"left":      {"ArrowLeft", "ArrowLeft"},
	"right":     {"ArrowRight", "ArrowRight"},
	" ":         {" ", "Space"},
	"space":     {" ", "Space"},
}

// punctuation maps US-layout characters to their key code and whether Shift
// produces them.
var punctuation = map[rune]struct {
	code  string
	shift bool
}{
	'-': {"Minus", false}, '_': {"Minus", true},
	'=': {"Equal", false}, '+': {"Equal", true},
	'[': {"BracketLeft", false}, '{': {"BracketLeft", true},
	']': {"BracketRight", false}, '}': {"BracketRight", true},
	'\\': {"Backslash", false}, '|': {"Backslash", true},
	';': {"Semicolon", false}, ':': {"Semicolon", true},
	'\'': {"Quote", false}, '"': {"Quote", true},
	',': {"Comma", false}, '<': {"Comma", true},
	'.': {"Period", false}, '>': {"Period", true},
	'/': {"Slash", false}, '?': {"Slash", true},
	'`': {"Backquote", false}, '~': {"Backquote", true},
	'!': {"Digit1", true}, '@': {"Digit2", true}, '#': {"Digit3", true},
	'$': {"Digit4", true}, '%': {"Digit5", true}, '^': {"Digit6", true},
	'&': {"Digit7", true}, '*': {"Digit8", true}, '(': {"Digit9", true},
	')': {"Digit0", true},
}

var modifierPrefixes = []string{"ctrl+", "alt+", "shift+"}

// Translate converts a bubbletea key message. ok is false for messages with
// no key-down equivalent (pastes, unknown control sequences).
func Translate(msg tea.KeyMsg) (surface.KeyEvent, bool) {
	if msg.Paste {
		return surface.KeyEvent{}, false
	}
	return Parse(msg.String())
}

// Parse converts a bubbletea key string such as "ctrl+shift+up", "alt+x" or
// "?".
func Parse(s string) (surface.KeyEvent, bool) {
	var ev surface.KeyEvent
	rest := s
	for {
		stripped := false
		for _, prefix := range modifierPrefixes {
			// "alt++" is Alt plus the "+" key; never strip down to nothing.
			if len(rest) > len(prefix) && strings.HasPrefix(rest, prefix) {
				rest = rest[len(prefix):]
				switch prefix {
				case "ctrl+":
					ev.CtrlKey = true
				case "alt+":
					ev.AltKey = true
				case "shift+":
					ev.ShiftKey = true
				}
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}

	if n, ok := namedKeys[rest]; ok {
		ev.Key, ev.Code = n.key, n.code
		return ev, true
	}
	if fn, ok := functionKey(rest); ok {
		ev.Key, ev.Code = fn, fn
		return ev, true
	}

	r, size := utf8.DecodeRuneInString(rest)
	if r == utf8.RuneError || size != len(rest) {
		return surface.KeyEvent{}, false
	}
	ev.Key = rest
	switch {
	case r >= 'a' && r <= 'z':
		ev.Code = "Key" + string(unicode.ToUpper(r))
	case r >= 'A' && r <= 'Z':
		ev.Code = "Key" + rest
		ev.ShiftKey = true
	case r >= '0' && r <= '9':
		ev.Code = "Digit" + rest
	default:
		if p, ok := punctuation[r]; ok {
			ev.Code = p.code
			ev.ShiftKey = ev.ShiftKey || p.shift
		}
		// Other characters have no US-layout code; ByKey bindings still match.
	}
	return ev, true
}

// functionKey recognizes "f1".."f20".
func functionKey(s string) (string, bool) {
	if len(s) < 2 || len(s) > 3 || s[0] != 'f' {
		return "", false
	}
	n := 0
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return "", false
		}
		n = n*10 + int(c-'0')
	}
	if n < 1 || n > 20 || s[1] == '0' {
		return "", false
	}
	return "F" + s[1:], true
}
