package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/surface"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
	// maxCallTimeout caps call_timeout so a typo cannot park registrations
	// for hours.
	maxCallTimeout = time.Minute
)

// DefaultAddr is the loopback address the daemon's bridge hub listens on.
const DefaultAddr = "127.0.0.1:17321"

// defaultConfigDirFn is a test seam; tests override it to simulate
// directory-resolution failures in validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userConfigDirFn = os.UserConfigDir

// ErrInvalidBinding reports a binding entry that cannot be registered.
var ErrInvalidBinding = errors.New("invalid binding")

// Config is the daemon configuration file.
type Config struct {
	// Addr is the listen address of the bridge hub.
	Addr string `yaml:"addr"`
	// Delivery selects how attached surfaces deliver key-down events:
	// "sync" (default) or "async".
	Delivery string `yaml:"delivery"`
	// Journal is the SQLite journal path. Empty disables the journal.
	Journal string `yaml:"journal,omitempty"`
	// CallTimeout bounds each registrar call made by the daemon's context.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
	// Bindings are the hotkeys the daemon declares.
	Bindings []Binding `yaml:"bindings,omitempty"`
}

// Binding is one declared hotkey.
type Binding struct {
	// Mode is "key" (default) or "code".
	Mode string `yaml:"mode,omitempty"`
	// Binding is a "Ctrl+Shift+KeyS"-style string; see hotkeys.ParseBinding.
	Binding string `yaml:"binding"`
	// Description is the entry's free-text label.
	Description string `yaml:"description,omitempty"`
	// Exclude lists exclusion category names. Nil means the default set.
	Exclude []string `yaml:"exclude,omitempty"`
	// ExcludeSelector suppresses the hotkey while a matching element is focused.
	ExcludeSelector string `yaml:"exclude_selector,omitempty"`
	// Disabled registers the hotkey without letting it fire.
	Disabled bool `yaml:"disabled,omitempty"`
	// Action is the name recorded when the hotkey fires. Empty means the
	// normalized binding.
	Action string `yaml:"action,omitempty"`
}

// ParsedMode returns the binding mode. Unknown values are reported by
// validation; here they map to ByKey.
func (b Binding) ParsedMode() hotkeys.Mode {
	if strings.EqualFold(strings.TrimSpace(b.Mode), "code") {
		return hotkeys.ByCode
	}
	return hotkeys.ByKey
}

// Parse parses the binding string in the binding's mode.
func (b Binding) Parse() (hotkeys.Binding, error) {
	return hotkeys.ParseBinding(b.ParsedMode(), b.Binding)
}

// ExcludeMask returns the exclusion bit set. Unknown names are ignored; they
// are reported once by validation.
func (b Binding) ExcludeMask() hotkeys.Exclude {
	if b.Exclude == nil {
		return hotkeys.ExcludeDefault
	}
	mask, _ := hotkeys.ExcludeFromNames(b.Exclude)
	return mask
}

// ActionName returns Action, or the normalized binding when empty.
func (b Binding) ActionName() string {
	if b.Action != "" {
		return b.Action
	}
	if parsed, err := b.Parse(); err == nil {
		return parsed.Normalized()
	}
	return b.Binding
}

// Options returns the hotkeys.Option set for registering b.
func (b Binding) Options() []hotkeys.Option {
	return []hotkeys.Option{
		hotkeys.WithDescription(b.Description),
		hotkeys.WithExclude(b.ExcludeMask()),
		hotkeys.WithExcludeSelector(b.ExcludeSelector),
		hotkeys.WithDisabled(b.Disabled),
	}
}

// DeliveryMode returns the parsed delivery strategy.
func (c Config) DeliveryMode() surface.Delivery {
	d, _ := surface.ParseDelivery(c.Delivery)
	return d
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Addr:     DefaultAddr,
		Delivery: surface.DeliverSync.String(),
	}
}

// DefaultPath resolves the config file path under the user config directory
// (XDG_CONFIG_HOME, ~/.config, %AppData% depending on the platform), falling
// back to os.TempDir() when it cannot be resolved.
// The temp-dir fallback is not a stable persistence location.
func DefaultPath() string {
	base, err := userConfigDirFn()
	if err != nil || strings.TrimSpace(base) == "" {
		slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
		base = os.TempDir()
	}
	return filepath.Join(base, "hotkeys2", "config.yaml")
}

// Load reads the config file. A missing or empty file yields defaults.
// Invalid bindings are an error; recoverable problems (unknown delivery,
// unknown exclusion names) are logged and normalized.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Clone returns a deep copy of src.
func Clone(src Config) Config {
	dst := src
	if src.Bindings != nil {
		dst.Bindings = make([]Binding, len(src.Bindings))
		for i, b := range src.Bindings {
			b.Exclude = slices.Clone(b.Exclude)
			dst.Bindings[i] = b
		}
	}
	return dst
}

// Save validates cfg and writes it to path atomically.
// Returns the normalized config that was actually written to disk.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// atomicWrite writes config data using temp-file + rename to avoid partial
// writes and retries rename on Windows to tolerate transient file locks.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and enforces that config writes stay
// inside the default config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// It also rejects Windows cross-drive escapes because filepath.Rel returns
// an absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

// applyDefaultsAndValidate fills missing defaults and validates cfg in-place.
// MUTATES: cfg is directly modified.
// Used by both Load and Save to ensure consistent normalization.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return nil
	}

	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	validateDelivery(cfg)
	validateCallTimeout(cfg)
	cfg.Journal = strings.TrimSpace(cfg.Journal)

	var errs []error
	for i := range cfg.Bindings {
		if err := normalizeAndValidateBinding(&cfg.Bindings[i]); err != nil {
			errs = append(errs, fmt.Errorf("bindings[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func validateDelivery(cfg *Config) {
	d := strings.ToLower(strings.TrimSpace(cfg.Delivery))
	parsed, ok := surface.ParseDelivery(d)
	if !ok {
		slog.Warn("[WARN-CONFIG] unknown delivery, falling back to sync", "configured", cfg.Delivery)
	}
	cfg.Delivery = parsed.String()
}

func validateCallTimeout(cfg *Config) {
	if cfg.CallTimeout < 0 {
		slog.Warn("[WARN-CONFIG] call_timeout is negative, disabling", "configured", cfg.CallTimeout)
		cfg.CallTimeout = 0
	}
	if cfg.CallTimeout > maxCallTimeout {
		slog.Warn("[WARN-CONFIG] call_timeout too large, clamping", "configured", cfg.CallTimeout, "max", maxCallTimeout)
		cfg.CallTimeout = maxCallTimeout
	}
}

// normalizeAndValidateBinding trims fields, canonicalizes mode and binding,
// and drops unknown exclusion names with a warning.
// MUTATES: b is directly modified.
func normalizeAndValidateBinding(b *Binding) error {
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	switch b.Mode {
	case "", "key":
		b.Mode = hotkeys.ByKey.String()
	case "code":
	default:
		return fmt.Errorf("%w: mode %q (want key or code)", ErrInvalidBinding, b.Mode)
	}

	parsed, err := b.Parse()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBinding, err)
	}
	b.Binding = parsed.Normalized()
	b.Description = strings.TrimSpace(b.Description)
	b.ExcludeSelector = strings.TrimSpace(b.ExcludeSelector)
	b.Action = strings.TrimSpace(b.Action)

	if b.Exclude != nil {
		_, unknown := hotkeys.ExcludeFromNames(b.Exclude)
		if len(unknown) > 0 {
			slog.Warn("[WARN-CONFIG] unknown exclude names ignored", "binding", b.Binding, "names", unknown)
			b.Exclude = slices.DeleteFunc(slices.Clone(b.Exclude), func(name string) bool {
				return slices.Contains(unknown, name)
			})
		}
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	// reflect.DeepEqual guards against field-addition drift that manual checks miss.
	return reflect.DeepEqual(cfg, Config{})
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
