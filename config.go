package kernlet

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/kernlet/default"
)

// Config represents the kernlet configuration.
type Config struct {
	Version    int              `toml:"version"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Loop       LoopConfig       `toml:"loop"`
	Completion CompletionConfig `toml:"completion"`
	History    HistoryConfig    `toml:"history"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// BridgeConfig holds settings for the execution bridge listener.
type BridgeConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Mode          string `toml:"mode"`
	Framing       string `toml:"framing"`
	MaxFrameBytes uint32 `toml:"max_frame_bytes"`
	PortFile      string `toml:"port_file"`
	PackagesFile  string `toml:"packages_file"`
}

// LoopConfig holds settings for the host loop.
type LoopConfig struct {
	FrameIntervalMS int `toml:"frame_interval_ms"`
}

// CompletionConfig holds settings for the completion engine.
type CompletionConfig struct {
	SearchPaths     []string `toml:"search_paths"`
	GoRoot          string   `toml:"goroot"`
	CacheTTLMinutes int      `toml:"cache_ttl_minutes"`
	MaxMatches      int      `toml:"max_matches"`
	Fuzzy           *bool    `toml:"fuzzy"`
}

// HistoryConfig holds settings for the cell history store.
type HistoryConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// MetricsConfig holds settings for the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Bridge modes.
const (
	ModeLoop   = "loop"
	ModeWorker = "worker"
)

// Framing names.
const (
	FramingLength = "length"
	FramingRaw    = "raw"
)

// ConfigDir returns the config directory path.
// Resolution order: $KERNLET_CONFIG_DIR > $XDG_CONFIG_HOME/kernlet > ~/.config/kernlet
func ConfigDir() string {
	if dir := os.Getenv("KERNLET_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "kernlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "kernlet-config")
	}
	return filepath.Join(home, ".config", "kernlet")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// RuntimeDir returns the directory holding the port and packages files.
// Resolution order: $KERNLET_RUNTIME_DIR > $XDG_RUNTIME_DIR/kernlet > /tmp/kernlet-<uid>
func RuntimeDir() string {
	if dir := os.Getenv("KERNLET_RUNTIME_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "kernlet")
	}
	return fmt.Sprintf("/tmp/kernlet-%d", os.Getuid())
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(string(defaults.DefaultConfigTOML), &cfg); err != nil {
		panic("kernlet: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads the config at path, filling missing fields from defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Bridge.Host == "" {
		cfg.Bridge.Host = defaults.Bridge.Host
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = defaults.Bridge.Port
	}
	if cfg.Bridge.Mode == "" {
		cfg.Bridge.Mode = defaults.Bridge.Mode
	}
	if cfg.Bridge.Framing == "" {
		cfg.Bridge.Framing = defaults.Bridge.Framing
	}
	if cfg.Bridge.MaxFrameBytes == 0 {
		cfg.Bridge.MaxFrameBytes = defaults.Bridge.MaxFrameBytes
	}
	if cfg.Loop.FrameIntervalMS == 0 {
		cfg.Loop.FrameIntervalMS = defaults.Loop.FrameIntervalMS
	}
	if cfg.Completion.CacheTTLMinutes == 0 {
		cfg.Completion.CacheTTLMinutes = defaults.Completion.CacheTTLMinutes
	}
	if cfg.Completion.MaxMatches == 0 {
		cfg.Completion.MaxMatches = defaults.Completion.MaxMatches
	}
	if cfg.Completion.Fuzzy == nil {
		cfg.Completion.Fuzzy = defaults.Completion.Fuzzy
	}
	if cfg.History.Enabled == nil {
		cfg.History.Enabled = defaults.History.Enabled
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	switch cfg.Bridge.Mode {
	case ModeLoop, ModeWorker:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown bridge mode %q; using %q", cfg.Bridge.Mode, ModeLoop))
	}
	switch cfg.Bridge.Framing {
	case FramingLength:
	case FramingRaw:
		warnings = append(warnings, "raw framing is a legacy fallback; requests larger than one read are truncated")
	default:
		warnings = append(warnings, fmt.Sprintf("unknown framing %q; using %q", cfg.Bridge.Framing, FramingLength))
	}
	if h := ResolveHost(cfg); h != "127.0.0.1" && h != "localhost" && h != "::1" {
		warnings = append(warnings, fmt.Sprintf("bridge host %s is not loopback; any local network peer can execute code", h))
	}
	if cfg.Bridge.Port < 0 || cfg.Bridge.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("bridge port %d out of range", cfg.Bridge.Port))
	}
	return warnings
}

// ResolveHost returns the bridge listen host.
// Priority: $KERNLET_HOST env > config value.
func ResolveHost(cfg *Config) string {
	if host := os.Getenv("KERNLET_HOST"); host != "" {
		return host
	}
	if cfg != nil && cfg.Bridge.Host != "" {
		return cfg.Bridge.Host
	}
	return "127.0.0.1"
}

// ResolvePort returns the bridge listen port.
// Priority: $KERNLET_PORT env > config value.
func ResolvePort(cfg *Config) int {
	if v := os.Getenv("KERNLET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	if cfg != nil {
		return cfg.Bridge.Port
	}
	return 0
}

// ResolvePortFile returns the port registration file path.
// Priority: $KERNLET_PORT_FILE env > config value > RuntimeDir()/socket.txt.
func ResolvePortFile(cfg *Config) string {
	if path := os.Getenv("KERNLET_PORT_FILE"); path != "" {
		return path
	}
	if cfg != nil && cfg.Bridge.PortFile != "" {
		return cfg.Bridge.PortFile
	}
	return filepath.Join(RuntimeDir(), "socket.txt")
}

// ResolvePackagesFile returns the path of the search-path handoff file.
// Priority: $KERNLET_PACKAGES_FILE env > config value > RuntimeDir()/packages.txt.
func ResolvePackagesFile(cfg *Config) string {
	if path := os.Getenv("KERNLET_PACKAGES_FILE"); path != "" {
		return path
	}
	if cfg != nil && cfg.Bridge.PackagesFile != "" {
		return cfg.Bridge.PackagesFile
	}
	return filepath.Join(RuntimeDir(), "packages.txt")
}

// ResolveGoRoot returns the GOROOT the completion engine reads sources from.
func ResolveGoRoot(cfg *Config) string {
	if cfg != nil && cfg.Completion.GoRoot != "" {
		return cfg.Completion.GoRoot
	}
	if root := os.Getenv("GOROOT"); root != "" {
		return root
	}
	return runtime.GOROOT()
}

// ResolveHistoryPath returns the history database path, or empty if history is disabled.
func ResolveHistoryPath(cfg *Config) string {
	if cfg == nil || (cfg.History.Enabled != nil && !*cfg.History.Enabled) {
		return ""
	}
	if cfg.History.Path != "" {
		return cfg.History.Path
	}
	return filepath.Join(ConfigDir(), "history.db")
}

// FrameInterval returns the host loop frame interval.
func FrameInterval(cfg *Config) time.Duration {
	if cfg == nil || cfg.Loop.FrameIntervalMS <= 0 {
		return 16 * time.Millisecond
	}
	return time.Duration(cfg.Loop.FrameIntervalMS) * time.Millisecond
}

// CacheTTL returns the completion package cache TTL.
func CacheTTL(cfg *Config) time.Duration {
	if cfg == nil || cfg.Completion.CacheTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(cfg.Completion.CacheTTLMinutes) * time.Minute
}

// FuzzyEnabled returns whether fuzzy completion fallback is on.
func FuzzyEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Completion.Fuzzy == nil {
		return true // default true
	}
	return *cfg.Completion.Fuzzy
}
