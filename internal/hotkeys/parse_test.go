package hotkeys

import (
	"strings"
	"testing"
)

func TestParseBindingSuccess(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		spec     string
		wantNorm string
		wantMods Modifier
		wantKey  string
	}{
		{
			name:     "Ctrl+Shift+KeyS by code",
			mode:     ByCode,
			spec:     "Ctrl+Shift+KeyS",
			wantNorm: "Ctrl+Shift+KeyS",
			wantMods: ModControl | ModShift,
			wantKey:  "KeyS",
		},
		{
			name:     "single key without modifiers",
			mode:     ByKey,
			spec:     "?",
			wantNorm: "?",
			wantMods: ModNone,
			wantKey:  "?",
		},
		{
			name:     "key case is preserved",
			mode:     ByKey,
			spec:     "Ctrl+S",
			wantNorm: "Ctrl+S",
			wantMods: ModControl,
			wantKey:  "S",
		},
		{
			name:     "modifier aliases",
			mode:     ByKey,
			spec:     "control+option+cmd+a",
			wantNorm: "Ctrl+Alt+Meta+a",
			wantMods: ModControl | ModAlt | ModMeta,
			wantKey:  "a",
		},
		{
			name:     "Win and Super map to Meta",
			mode:     ByCode,
			spec:     "Win+Super+KeyE",
			wantNorm: "Meta+KeyE",
			wantMods: ModMeta,
			wantKey:  "KeyE",
		},
		{
			name:     "duplicate modifiers collapse",
			mode:     ByKey,
			spec:     "Ctrl+Ctrl+a",
			wantNorm: "Ctrl+a",
			wantMods: ModControl,
			wantKey:  "a",
		},
		{
			name:     "whitespace padded",
			mode:     ByKey,
			spec:     "  Ctrl + a  ",
			wantNorm: "Ctrl+a",
			wantMods: ModControl,
			wantKey:  "a",
		},
		{
			name:     "plus key",
			mode:     ByKey,
			spec:     "Ctrl++",
			wantNorm: "Ctrl++",
			wantMods: ModControl,
			wantKey:  "+",
		},
		{
			name:     "bare plus key",
			mode:     ByKey,
			spec:     "+",
			wantNorm: "+",
			wantMods: ModNone,
			wantKey:  "+",
		},
		{
			name:     "key alias esc",
			mode:     ByKey,
			spec:     "Shift+esc",
			wantNorm: "Shift+Escape",
			wantMods: ModShift,
			wantKey:  "Escape",
		},
		{
			name:     "space alias renders as Space",
			mode:     ByKey,
			spec:     "Ctrl+Space",
			wantNorm: "Ctrl+Space",
			wantMods: ModControl,
			wantKey:  " ",
		},
		{
			name:     "aliases are not applied to codes",
			mode:     ByCode,
			spec:     "Up",
			wantNorm: "Up",
			wantMods: ModNone,
			wantKey:  "Up",
		},
		{
			name:     "modifier key as code",
			mode:     ByCode,
			spec:     "ShiftLeft",
			wantNorm: "ShiftLeft",
			wantMods: ModNone,
			wantKey:  "ShiftLeft",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binding, err := ParseBinding(tt.mode, tt.spec)
			if err != nil {
				t.Fatalf("ParseBinding(%q) returned unexpected error: %v", tt.spec, err)
			}
			if binding.Normalized() != tt.wantNorm {
				t.Errorf("Normalized() = %q, want %q", binding.Normalized(), tt.wantNorm)
			}
			if binding.Modifiers() != tt.wantMods {
				t.Errorf("Modifiers() = 0x%X, want 0x%X", binding.Modifiers(), tt.wantMods)
			}
			if binding.Key() != tt.wantKey {
				t.Errorf("Key() = %q, want %q", binding.Key(), tt.wantKey)
			}
			if binding.Mode() != tt.mode {
				t.Errorf("Mode() = %v, want %v", binding.Mode(), tt.mode)
			}
		})
	}
}

func TestParseBindingErrors(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		spec    string
		wantSub string
	}{
		{name: "empty spec", spec: "", wantSub: "empty"},
		{name: "whitespace-only spec", spec: "   ", wantSub: "empty"},
		{name: "unknown modifier", spec: "Hyper+A", wantSub: "unknown modifier"},
		{name: "missing key token", spec: "Ctrl+", wantSub: "missing hotkey key token"},
		{name: "leading plus", spec: "+A", wantSub: "unknown modifier"},
		{name: "unknown mode", mode: Mode(7), spec: "A", wantSub: "unknown hotkey mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBinding(tt.mode, tt.spec)
			if err == nil {
				t.Fatalf("ParseBinding(%q) expected error, got nil", tt.spec)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestEncodingValues(t *testing.T) {
	// Wire encoding: these values cross the attach boundary verbatim.
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"ModShift", int(ModShift), 1},
		{"ModControl", int(ModControl), 2},
		{"ModAlt", int(ModAlt), 4},
		{"ModMeta", int(ModMeta), 8},
		{"ExcludeInputText", int(ExcludeInputText), 1},
		{"ExcludeInputNonText", int(ExcludeInputNonText), 2},
		{"ExcludeTextArea", int(ExcludeTextArea), 4},
		{"ExcludeContentEditable", int(ExcludeContentEditable), 8},
		{"ExcludeDefault", int(ExcludeDefault), 7},
		{"ByKey", int(ByKey), 0},
		{"ByCode", int(ByCode), 1},
		{"NoHandle", NoHandle, -1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestExcludeFromNames(t *testing.T) {
	tests := []struct {
		name        string
		in          []string
		want        Exclude
		wantUnknown []string
	}{
		{name: "empty", in: nil, want: ExcludeNone},
		{name: "default", in: []string{"default"}, want: ExcludeDefault},
		{name: "round trip of String", in: strings.Split(ExcludeDefault.String(), "|"), want: ExcludeDefault},
		{name: "content editable only", in: []string{"Content-Editable"}, want: ExcludeContentEditable},
		{name: "none contributes nothing", in: []string{"none", "textarea"}, want: ExcludeTextArea},
		{name: "unknown reported", in: []string{"textarea", "select"}, want: ExcludeTextArea, wantUnknown: []string{"select"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unknown := ExcludeFromNames(tt.in)
			if got != tt.want {
				t.Errorf("ExcludeFromNames(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if strings.Join(unknown, ",") != strings.Join(tt.wantUnknown, ",") {
				t.Errorf("unknown = %v, want %v", unknown, tt.wantUnknown)
			}
		})
	}
}

func TestModifierString(t *testing.T) {
	if got := (ModShift | ModControl | ModAlt | ModMeta).String(); got != "Ctrl+Alt+Shift+Meta" {
		t.Errorf("String() = %q", got)
	}
	if got := ModNone.String(); got != "" {
		t.Errorf("ModNone.String() = %q, want empty", got)
	}
}
