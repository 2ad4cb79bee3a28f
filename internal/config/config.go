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
	"sort"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"chordkit/internal/chord"
	"chordkit/internal/registry"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
	// maxValidPort is the highest TCP port number (2^16 - 1).
	// Port 0 is valid and means "OS auto-assign".
	maxValidPort = 65535

	DefaultHoldMS = 30
	MaxHoldMS     = 1000

	DefaultBridgeBaud = 250000
	DefaultDeviceName = "chordkit virtual keyboard"
	journalFileName   = "journal.db"
)

// Injector kinds.
const (
	InjectorDryRun    = "dry-run"
	InjectorUinput    = "uinput"
	InjectorSendInput = "sendinput"
	InjectorBridge    = "bridge"
)

var injectorKinds = map[string]struct{}{
	InjectorDryRun:    {},
	InjectorUinput:    {},
	InjectorSendInput: {},
	InjectorBridge:    {},
}

// defaultConfigDirFn is a test seam; tests override it to simulate
// directory-resolution failures in validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir
var yamlUnmarshalConfigMetadataFn = func(raw []byte, out *map[string]any) error {
	return yaml.Unmarshal(raw, out)
}
var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(defaultPathWarningState.messages))
	copy(out, defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is the chordd runtime configuration.
type Config struct {
	// HoldMS is how long the primary key stays down, in milliseconds.
	HoldMS   int            `yaml:"hold_ms" json:"hold_ms"`
	Injector InjectorConfig `yaml:"injector" json:"injector"`
	// Endpoint overrides the IPC pipe/socket name. Empty uses the per-user default.
	Endpoint      string          `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Monitor       MonitorConfig   `yaml:"monitor" json:"monitor"`
	Journal       JournalConfig   `yaml:"journal" json:"journal"`
	Triggers      []TriggerConfig `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	ReleaseHotkey string          `yaml:"release_hotkey,omitempty" json:"release_hotkey,omitempty"`
	Bindings      []BindingConfig `yaml:"bindings" json:"bindings"`
}

// InjectorConfig selects and configures the key injector backend.
type InjectorConfig struct {
	Kind string `yaml:"kind" json:"kind"`
	// Device is the serial device of the HID bridge (e.g. /dev/ttyACM0).
	Device    string `yaml:"device,omitempty" json:"device,omitempty"`
	Baud      int    `yaml:"baud,omitempty" json:"baud,omitempty"`
	Handshake bool   `yaml:"handshake" json:"handshake"`
	// DeviceName is the name of the uinput virtual keyboard.
	DeviceName string `yaml:"device_name,omitempty" json:"device_name,omitempty"`
}

// MonitorConfig controls the local WebSocket event feed.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Port 0 (default) lets the OS assign an available port.
	Port int `yaml:"port" json:"port"`
}

// JournalConfig controls the SQLite dispatch journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Path defaults to journal.db next to the config file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TriggerConfig binds a global hotkey to an action.
type TriggerConfig struct {
	Hotkey string `yaml:"hotkey" json:"hotkey"`
	Action int    `yaml:"action" json:"action"`
}

// BindingConfig binds an action ID to a chord string such as "Shift+A".
type BindingConfig struct {
	Action int    `yaml:"action" json:"action"`
	Chord  string `yaml:"chord" json:"chord"`
}

// DefaultBindings returns the stock action table.
func DefaultBindings() []BindingConfig {
	return []BindingConfig{
		{Action: 1, Chord: "Shift+A"},
		{Action: 2, Chord: "Ctrl+B"},
		{Action: 3, Chord: "Alt+C"},
		{Action: 4, Chord: "Space"},
		{Action: 5, Chord: "1"},
		{Action: 6, Chord: "2"},
		{Action: 7, Chord: "3"},
		{Action: 8, Chord: "4"},
		{Action: 9, Chord: "5"},
	}
}

// DefaultConfig returns default values.
func DefaultConfig() Config {
	return Config{
		HoldMS: DefaultHoldMS,
		Injector: InjectorConfig{
			Kind:       InjectorDryRun,
			Baud:       DefaultBridgeBaud,
			Handshake:  true,
			DeviceName: DefaultDeviceName,
		},
		Monitor:       MonitorConfig{Enabled: false},
		Journal:       JournalConfig{Enabled: false},
		ReleaseHotkey: "Ctrl+Alt+Pause",
		Bindings:      DefaultBindings(),
	}
}

// Hold returns the configured hold interval.
func (c Config) Hold() time.Duration {
	return time.Duration(c.HoldMS) * time.Millisecond
}

// DefaultPath resolves the config file path, preferring LOCALAPPDATA over
// APPDATA and XDG_CONFIG_HOME, falling back to ~/.config when all are unset,
// and then to os.TempDir() if the home directory cannot be resolved.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		base = strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			// Keep config path resolvable even in restricted environments.
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve LOCALAPPDATA/APPDATA/XDG_CONFIG_HOME/home directory. Using temp directory; settings persistence may be limited.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "chordkit", "config.yaml")
}

// Load reads config file. If file does not exist, defaults are returned.
// Structural problems (unknown injector kind, bridge without device) are
// errors; out-of-range numbers fall back to defaults with a warning.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyJournalPath(&cfg, path)
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		applyJournalPath(&cfg, path)
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}

	rawMap, metadataErr := parseRawConfigMetadata(raw)
	if metadataErr != nil {
		// Keep the parsed hold_ms; without metadata an explicit 0 is
		// indistinguishable from a missing key.
		slog.Warn("[WARN-CONFIG] failed to parse config metadata, preserving parsed values", "error", metadataErr)
	} else {
		warnUnknownFields(rawMap)
		if _, has := rawMap["hold_ms"]; !has {
			cfg.HoldMS = DefaultHoldMS
		}
		if _, has := rawMap["bindings"]; !has {
			cfg.Bindings = DefaultBindings()
		}
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	applyJournalPath(&cfg, path)
	return cfg, nil
}

// EnsureFile writes default config if missing and returns loaded config.
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

// InjectorKinds returns the accepted injector kinds, sorted.
func InjectorKinds() []string {
	kinds := make([]string, 0, len(injectorKinds))
	for k := range injectorKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Clone returns a deep copy of cfg.
// Use this when sharing config snapshots across goroutines or package boundaries.
func Clone(src Config) Config {
	dst := src
	if src.Triggers != nil {
		dst.Triggers = make([]TriggerConfig, len(src.Triggers))
		copy(dst.Triggers, src.Triggers)
	}
	if src.Bindings != nil {
		dst.Bindings = make([]BindingConfig, len(src.Bindings))
		copy(dst.Bindings, src.Bindings)
	}
	return dst
}

// BuildRegistry parses every binding and builds the action table. All chord
// syntax errors and registry violations are reported together.
func BuildRegistry(cfg Config) (*registry.Registry, error) {
	var errs []error
	bindings := make([]registry.Binding, 0, len(cfg.Bindings))
	for i, b := range cfg.Bindings {
		c, err := chord.Parse(b.Chord)
		if err != nil {
			errs = append(errs, fmt.Errorf("bindings[%d] (action %d): %w", i, b.Action, err))
			continue
		}
		bindings = append(bindings, registry.Binding{Action: registry.ActionID(b.Action), Chord: c})
	}
	reg, err := registry.FromBindings(bindings)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// Save validates cfg, fills defaults, and atomically writes to path.
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
// inside the default config directory when that directory is resolvable.
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
	if isZeroConfig(*cfg) {
		*cfg = DefaultConfig()
		return nil
	}

	validateHold(cfg)
	if err := normalizeAndValidateInjector(&cfg.Injector); err != nil {
		return err
	}
	validateMonitorPort(cfg)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.ReleaseHotkey = strings.TrimSpace(cfg.ReleaseHotkey)
	cfg.Journal.Path = strings.TrimSpace(cfg.Journal.Path)
	sanitizeTriggers(cfg)
	if cfg.Bindings == nil {
		cfg.Bindings = DefaultBindings()
	}
	for i := range cfg.Bindings {
		cfg.Bindings[i].Chord = strings.TrimSpace(cfg.Bindings[i].Chord)
	}
	return nil
}

// validateHold resets out-of-range hold_ms to the default.
// NOTE: non-fatal, a bad hold value must not prevent startup.
func validateHold(cfg *Config) {
	if cfg.HoldMS < 0 || cfg.HoldMS > MaxHoldMS {
		slog.Warn("[WARN-CONFIG] hold_ms out of valid range (0-1000), falling back to default",
			"configured", cfg.HoldMS, "default", DefaultHoldMS)
		cfg.HoldMS = DefaultHoldMS
	}
}

func normalizeAndValidateInjector(ic *InjectorConfig) error {
	ic.Kind = strings.ToLower(strings.TrimSpace(ic.Kind))
	if ic.Kind == "" {
		ic.Kind = InjectorDryRun
	}
	if _, ok := injectorKinds[ic.Kind]; !ok {
		return fmt.Errorf("injector.kind %q is not supported (allowed: %s)", ic.Kind, strings.Join(InjectorKinds(), ", "))
	}
	ic.Device = strings.TrimSpace(ic.Device)
	ic.DeviceName = strings.TrimSpace(ic.DeviceName)
	if ic.DeviceName == "" {
		ic.DeviceName = DefaultDeviceName
	}
	if ic.Baud <= 0 {
		if ic.Baud < 0 {
			slog.Warn("[WARN-CONFIG] injector.baud must be positive, falling back to default",
				"configured", ic.Baud, "default", DefaultBridgeBaud)
		}
		ic.Baud = DefaultBridgeBaud
	}
	if ic.Kind == InjectorBridge && ic.Device == "" {
		return errors.New("injector.device is required when injector.kind is bridge")
	}
	return nil
}

// validateMonitorPort checks that Monitor.Port is within the valid TCP port
// range (0-65535). Invalid values are logged and reset to 0 (auto-assign).
func validateMonitorPort(cfg *Config) {
	if cfg.Monitor.Port < 0 || cfg.Monitor.Port > maxValidPort {
		slog.Warn("[WARN-CONFIG] monitor.port out of valid range (0-65535), falling back to 0 (auto-assign)",
			"configured", cfg.Monitor.Port, "max", maxValidPort)
		cfg.Monitor.Port = 0
	}
}

// sanitizeTriggers drops triggers without a hotkey.
func sanitizeTriggers(cfg *Config) {
	if len(cfg.Triggers) == 0 {
		return
	}
	kept := cfg.Triggers[:0]
	for i, tr := range cfg.Triggers {
		tr.Hotkey = strings.TrimSpace(tr.Hotkey)
		if tr.Hotkey == "" {
			slog.Warn("[WARN-CONFIG] skipping trigger without hotkey", "index", i, "action", tr.Action)
			continue
		}
		kept = append(kept, tr)
	}
	if len(kept) == 0 {
		cfg.Triggers = nil
		return
	}
	cfg.Triggers = kept
}

// applyJournalPath resolves an empty journal path next to the config file.
func applyJournalPath(cfg *Config, configPath string) {
	if cfg.Journal.Path != "" {
		return
	}
	cfg.Journal.Path = filepath.Join(filepath.Dir(configPath), journalFileName)
}

var knownTopLevelKeys = map[string]struct{}{
	"hold_ms":        {},
	"injector":       {},
	"endpoint":       {},
	"monitor":        {},
	"journal":        {},
	"triggers":       {},
	"release_hotkey": {},
	"bindings":       {},
}

func warnUnknownFields(rawMap map[string]any) {
	for key := range rawMap {
		if _, ok := knownTopLevelKeys[key]; !ok {
			slog.Warn("[WARN-CONFIG] unknown config field ignored", "field", key)
		}
	}
}

func parseRawConfigMetadata(raw []byte) (map[string]any, error) {
	var rawMap map[string]any
	if err := yamlUnmarshalConfigMetadataFn(raw, &rawMap); err != nil {
		return nil, err
	}
	return rawMap, nil
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
