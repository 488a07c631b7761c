package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"hotkeys2/internal/bridge"
	"hotkeys2/internal/config"
	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/journal"
	"hotkeys2/internal/testutil"
)

const baseConfig = `addr: 127.0.0.1:0
journal: data/journal.db
call_timeout: 5s
bindings:
`

func writeDaemonConfig(t *testing.T, path, bindings string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(baseConfig+bindings), 0o600); err != nil {
		t.Fatal(err)
	}
}

// rewriteUntil rewrites the config until done reports true; the watcher
// starts asynchronously and may miss a single early write.
func rewriteUntil(t *testing.T, path, bindings, what string, done func() bool) {
	t.Helper()
	for range 20 {
		writeDaemonConfig(t, path, bindings)
		if testutil.Eventually(300*time.Millisecond, done) {
			return
		}
	}
	t.Fatalf("timed out waiting for %s", what)
}

func boundTo(d *daemon, keys ...string) func() bool {
	return func() bool {
		entries := d.hk.Entries()
		if len(entries) != len(keys) {
			return false
		}
		for _, e := range entries {
			if e.State() != hotkeys.StateActive || !slices.Contains(keys, e.KeyEntry()) {
				return false
			}
		}
		return true
	}
}

func startDaemon(t *testing.T, bindings string) (*daemon, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeDaemonConfig(t, path, bindings)

	d := newDaemon(path, "")
	t.Cleanup(d.shutdown)
	if err := d.startup(t.Context()); err != nil {
		t.Fatalf("startup() error = %v", err)
	}
	return d, path
}

func waitBound(t *testing.T, d *daemon, keys ...string) {
	t.Helper()
	testutil.WaitFor(t, 5*time.Second, "bindings active", boundTo(d, keys...))
}

func pressCtrl(t *testing.T, kc *bridge.KeyClient, key string) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	prevent, err := kc.KeyDown(ctx, bridge.KeyDownFrame{Key: key, Code: "Key" + string(key[0]-'a'+'A'), CtrlKey: true})
	if err != nil {
		t.Fatalf("KeyDown(ctrl+%s) error = %v", key, err)
	}
	return prevent
}

func firedActions(t *testing.T, j *journal.Journal) []string {
	t.Helper()
	entries, err := j.Recent(t.Context(), 100, journal.KindFired)
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestDaemonFiresConfiguredBindings(t *testing.T) {
	d, path := startDaemon(t, `  - binding: Ctrl+s
    action: save
    description: save file
`)
	if got, want := d.journal.Path(), filepath.Join(filepath.Dir(path), "data", "journal.db"); got != want {
		t.Errorf("journal path = %q, want %q", got, want)
	}
	waitBound(t, d, "s")

	kc, err := bridge.DialKeys(t.Context(), d.hub.KeysURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(kc.Close)

	if !pressCtrl(t, kc, "s") {
		t.Error("ctrl+s was not consumed")
	}
	if pressCtrl(t, kc, "x") {
		t.Error("unbound ctrl+x was consumed")
	}
	testutil.WaitFor(t, 5*time.Second, "fired entry journaled", func() bool {
		return slices.Equal(firedActions(t, d.journal), []string{"save"})
	})

	entries, err := d.journal.Recent(t.Context(), 1, journal.KindFired)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Binding != "key:Ctrl+s" || entries[0].Description != "save file" {
		t.Errorf("journal entry = %+v", entries[0])
	}
}

func TestDaemonReloadsBindings(t *testing.T) {
	d, path := startDaemon(t, `  - binding: Ctrl+s
    action: save
`)
	waitBound(t, d, "s")

	rewriteUntil(t, path, `  - binding: Ctrl+o
    action: open
`, "reloaded bindings", boundTo(d, "o"))
	waitBound(t, d, "o")

	kc, err := bridge.DialKeys(t.Context(), d.hub.KeysURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(kc.Close)

	if pressCtrl(t, kc, "s") {
		t.Error("removed binding ctrl+s still consumed")
	}
	if !pressCtrl(t, kc, "o") {
		t.Error("reloaded binding ctrl+o not consumed")
	}
	testutil.WaitFor(t, 5*time.Second, "open journaled", func() bool {
		return slices.Equal(firedActions(t, d.journal), []string{"open"})
	})
}

func TestDaemonReapplyBindsEachKeyOnce(t *testing.T) {
	d, _ := startDaemon(t, `  - binding: Ctrl+s
    action: save
`)
	waitBound(t, d, "s")

	d.applyBindings(d.cfg.Bindings)
	if n := d.hk.Len(); n != 1 {
		t.Fatalf("entries right after reapply = %d, want 1", n)
	}
	waitBound(t, d, "s")

	kc, err := bridge.DialKeys(t.Context(), d.hub.KeysURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(kc.Close)

	if !pressCtrl(t, kc, "s") {
		t.Fatal("ctrl+s not consumed after reapply")
	}
	testutil.WaitFor(t, 5*time.Second, "save journaled", func() bool {
		return len(firedActions(t, d.journal)) > 0
	})
	testutil.Never(t, 100*time.Millisecond, "a second firing", func() bool {
		return len(firedActions(t, d.journal)) > 1
	})
}

func TestDaemonKeepsBindingsOnInvalidReload(t *testing.T) {
	d, path := startDaemon(t, `  - binding: Ctrl+s
`)
	waitBound(t, d, "s")

	rewriteUntil(t, path, `  - binding: Hyper+s
`, "reload failure journaled", func() bool {
		diags, err := d.journal.Recent(t.Context(), 20, journal.KindDiagnostic)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range diags {
			if e.Source == "config" && e.Level == "warn" {
				return true
			}
		}
		return false
	})
	waitBound(t, d, "s")
}

func TestDaemonAddrOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("addr: 256.0.0.1:1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	d := newDaemon(path, "127.0.0.1:0")
	t.Cleanup(d.shutdown)
	if err := d.startup(t.Context()); err != nil {
		t.Fatalf("startup() error = %v", err)
	}
	if d.journal != nil {
		t.Error("journal opened although the config disables it")
	}
	if d.hub.KeysURL() == "" {
		t.Error("hub not started")
	}
}

func TestDaemonStartupFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bindings:\n  - binding: Ctrl+\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	d := newDaemon(path, "")
	if err := d.startup(t.Context()); err == nil {
		t.Fatal("startup() error = nil for invalid config")
	}
	d.shutdown()
	d.shutdown()
}

func TestJournalPath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "j.db")
	tests := []struct {
		name    string
		journal string
		want    string
	}{
		{name: "disabled", journal: "", want: ""},
		{name: "absolute", journal: abs, want: abs},
		{name: "relative", journal: "j.db", want: filepath.Join("/etc/hotkeys2", "j.db")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{Journal: tt.journal}
			if got := journalPath(cfg, filepath.Join("/etc/hotkeys2", "config.yaml")); got != tt.want {
				t.Errorf("journalPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
