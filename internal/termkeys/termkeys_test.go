package termkeys

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/surface"
	"hotkeys2/internal/testutil"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		wantKey  string
		wantCode string
		wantMods hotkeys.Modifier
	}{
		{in: "a", wantKey: "a", wantCode: "KeyA"},
		{in: "A", wantKey: "A", wantCode: "KeyA", wantMods: hotkeys.ModShift},
		{in: "ctrl+s", wantKey: "s", wantCode: "KeyS", wantMods: hotkeys.ModControl},
		{in: "alt+x", wantKey: "x", wantCode: "KeyX", wantMods: hotkeys.ModAlt},
		{in: "alt+ctrl+k", wantKey: "k", wantCode: "KeyK", wantMods: hotkeys.ModAlt | hotkeys.ModControl},
		{in: "7", wantKey: "7", wantCode: "Digit7"},
		{in: "?", wantKey: "?", wantCode: "Slash", wantMods: hotkeys.ModShift},
		{in: "/", wantKey: "/", wantCode: "Slash"},
		{in: "!", wantKey: "!", wantCode: "Digit1", wantMods: hotkeys.ModShift},
		{in: "+", wantKey: "+", wantCode: "Equal", wantMods: hotkeys.ModShift},
		{in: "alt++", wantKey: "+", wantCode: "Equal", wantMods: hotkeys.ModAlt | hotkeys.ModShift},
		{in: " ", wantKey: " ", wantCode: "Space"},
		{in: "alt+ ", wantKey: " ", wantCode: "Space", wantMods: hotkeys.ModAlt},
		{in: "enter", wantKey: "Enter", wantCode: "Enter"},
		{in: "esc", wantKey: "Escape", wantCode: "Escape"},
		{in: "shift+tab", wantKey: "Tab", wantCode: "Tab", wantMods: hotkeys.ModShift},
		{in: "ctrl+shift+up", wantKey: "ArrowUp", wantCode: "ArrowUp", wantMods: hotkeys.ModControl | hotkeys.ModShift},
		{in: "pgdown", wantKey: "PageDown", wantCode: "PageDown"},
		{in: "f5", wantKey: "F5", wantCode: "F5"},
		{in: "f12", wantKey: "F12", wantCode: "F12"},
		{in: "é", wantKey: "é", wantCode: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ev, ok := Parse(tt.in)
			if !ok {
				t.Fatalf("Parse(%q) ok = false", tt.in)
			}
			if ev.Key != tt.wantKey || ev.Code != tt.wantCode {
				t.Errorf("Parse(%q) = key %q code %q, want %q %q", tt.in, ev.Key, ev.Code, tt.wantKey, tt.wantCode)
			}
			if ev.Modifiers() != tt.wantMods {
				t.Errorf("Parse(%q) modifiers = %v, want %v", tt.in, ev.Modifiers(), tt.wantMods)
			}
			if ev.Synthetic || ev.Target != nil {
				t.Errorf("Parse(%q) = %+v, want real event without target", tt.in, ev)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "ctrl+", "runes", "[pasted]", "f0", "f21", "f05", "fx"} {
		t.Run(in, func(t *testing.T) {
			if ev, ok := Parse(in); ok {
				t.Errorf("Parse(%q) = %+v, want ok=false", in, ev)
			}
		})
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		msg      tea.KeyMsg
		wantOK   bool
		wantKey  string
		wantMods hotkeys.Modifier
	}{
		{name: "runes", msg: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}, wantOK: true, wantKey: "q"},
		{name: "alt runes", msg: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q"), Alt: true}, wantOK: true, wantKey: "q", wantMods: hotkeys.ModAlt},
		{name: "ctrl letter", msg: tea.KeyMsg{Type: tea.KeyCtrlS}, wantOK: true, wantKey: "s", wantMods: hotkeys.ModControl},
		{name: "enter", msg: tea.KeyMsg{Type: tea.KeyEnter}, wantOK: true, wantKey: "Enter"},
		{name: "shift tab", msg: tea.KeyMsg{Type: tea.KeyShiftTab}, wantOK: true, wantKey: "Tab", wantMods: hotkeys.ModShift},
		{name: "up", msg: tea.KeyMsg{Type: tea.KeyUp}, wantOK: true, wantKey: "ArrowUp"},
		{name: "paste", msg: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("abc"), Paste: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Translate(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("Translate(%q) ok = %v, want %v", tt.msg.String(), ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Key != tt.wantKey || ev.Modifiers() != tt.wantMods {
				t.Errorf("Translate(%q) = %q %v, want %q %v", tt.msg.String(), ev.Key, ev.Modifiers(), tt.wantKey, tt.wantMods)
			}
		})
	}
}

// TestTranslatedEventsMatchBindings feeds terminal keys through a surface to
// check the reconstructed key/code pairs against both binding modes.
func TestTranslatedEventsMatchBindings(t *testing.T) {
	tests := []struct {
		name    string
		binding string
		mode    hotkeys.Mode
		press   string
		want    bool
	}{
		{name: "ctrl key", binding: "Ctrl+s", mode: hotkeys.ByKey, press: "ctrl+s", want: true},
		{name: "ctrl code", binding: "Ctrl+KeyS", mode: hotkeys.ByCode, press: "ctrl+s", want: true},
		{name: "shifted char by key", binding: "?", mode: hotkeys.ByKey, press: "?", want: true},
		{name: "shifted char by code needs shift", binding: "Slash", mode: hotkeys.ByCode, press: "?", want: false},
		{name: "shifted char by code", binding: "Shift+Slash", mode: hotkeys.ByCode, press: "?", want: true},
		{name: "alt space", binding: "Alt+Space", mode: hotkeys.ByKey, press: "alt+ ", want: true},
		{name: "wrong modifier", binding: "Ctrl+s", mode: hotkeys.ByKey, press: "alt+s", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := surface.NewSource()
			b, err := hotkeys.ParseBinding(tt.mode, tt.binding)
			if err != nil {
				t.Fatal(err)
			}
			fired := make(chan struct{}, 1)
			hk := hotkeys.NewContext(surface.AttachFunc(src, surface.DeliverSync))
			t.Cleanup(hk.Dispose)
			hk.AddBinding(b, hotkeys.Action(func() { fired <- struct{}{} }), hotkeys.WithExclude(hotkeys.ExcludeNone))
			waitActive(t, hk)

			ev, ok := Parse(tt.press)
			if !ok {
				t.Fatalf("Parse(%q) ok = false", tt.press)
			}
			if got := src.Emit(ev); got != tt.want {
				t.Errorf("Emit(%q) preventDefault = %v, want %v", tt.press, got, tt.want)
			}
		})
	}
}

func waitActive(t *testing.T, hk *hotkeys.Context) {
	t.Helper()
	testutil.WaitFor(t, 2*time.Second, "entry active", func() bool {
		e := hk.Entries()
		return len(e) == 1 && e[0].State() == hotkeys.StateActive
	})
}
