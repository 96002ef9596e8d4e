// Package config handles configuration parsing for blockterm.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/acolita/blockterm/internal/ports"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/blockterm/config.yaml or ~/.config/blockterm/config.yaml
func DefaultConfigPath() string {
	return xdgPath("XDG_CONFIG_HOME", ".config", "config.yaml")
}

// DefaultHistoryPath returns $XDG_DATA_HOME/blockterm/history.db or
// ~/.local/share/blockterm/history.db.
func DefaultHistoryPath() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "history.db")
}

// DefaultRecordingPath returns the directory recordings are written to.
func DefaultRecordingPath() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "recordings")
}

func xdgPath(env, fallback, name string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "blockterm", name)
}

// Config represents the top-level configuration.
type Config struct {
	Shell           ShellConfig     `yaml:"shell"`
	Engine          EngineConfig    `yaml:"engine"`
	Transfer        TransferConfig  `yaml:"transfer"`
	History         HistoryConfig   `yaml:"history"`
	Security        SecurityConfig  `yaml:"security"`
	Logging         LoggingConfig   `yaml:"logging"`
	Recording       RecordingConfig `yaml:"recording"`
	PromptDetection PromptConfig    `yaml:"prompt_detection"`
}

// ShellConfig defines how commands are started.
type ShellConfig struct {
	Path string `yaml:"path"` // custom shell path (overrides detection)
	Term string `yaml:"term"` // TERM for pseudo-terminal commands
	Rows uint16 `yaml:"rows"`
	Cols uint16 `yaml:"cols"`
}

// EngineConfig tunes command execution and output processing.
type EngineConfig struct {
	CommandTimeout      time.Duration `yaml:"command_timeout"`     // 0 disables
	LongTimeout         time.Duration `yaml:"long_timeout"`        // installs and transfers
	InteractiveTimeout  time.Duration `yaml:"interactive_timeout"` // pseudo-terminal commands, 0 disables
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	MaxOutputLines      int           `yaml:"max_output_lines"` // per block
	Debounce            time.Duration `yaml:"debounce"`
	PromptScanLines     int           `yaml:"prompt_scan_lines"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	InteractivePrograms []string      `yaml:"interactive_programs"`  // added to the built-in list
	LongRunningPrograms []string      `yaml:"long_running_programs"` // added to the built-in list
}

// TransferConfig defines background transfer settings.
type TransferConfig struct {
	Backend    string        `yaml:"backend"` // "pty" or "sftp"
	Program    string        `yaml:"program"` // "scp" or "rsync" for the pty backend
	LogBudget  int           `yaml:"log_budget"`
	Timeout    time.Duration `yaml:"timeout"` // 0 disables
	KnownHosts string        `yaml:"known_hosts"`
	UseAgent   bool          `yaml:"use_agent"`
}

// HistoryConfig defines where completed commands are kept.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path"`
	Limit   int    `yaml:"limit"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	CommandBlocklist    []string      `yaml:"command_blocklist"`     // Regex patterns for blocked commands
	CommandAllowlist    []string      `yaml:"command_allowlist"`     // If set, only these patterns allowed
	MaxAuthFailures     int           `yaml:"max_auth_failures"`     // Max failed auth attempts before lockout
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration"` // Duration of auth lockout
	UseKeyring          bool          `yaml:"use_keyring"`           // Use OS keyring for credential storage
	KeyringService      string        `yaml:"keyring_service"`
	DefaultUser         string        `yaml:"default_user"` // user for targets without "user@"; $USER if empty
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // enable session recording
	Path    string `yaml:"path"`    // directory to store recordings
}

// PromptConfig defines prompt detection settings.
type PromptConfig struct {
	CustomPatterns []PatternConfig `yaml:"custom_patterns"`
}

// PatternConfig defines a custom prompt pattern.
type PatternConfig struct {
	Name      string `yaml:"name"`
	Regex     string `yaml:"regex"`
	Type      string `yaml:"type"`       // "password", "confirmation", "text"
	MaskInput bool   `yaml:"mask_input"` // mask input in logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Shell: ShellConfig{
			Term: "xterm-256color",
			Rows: 24,
			Cols: 120,
		},
		Engine: EngineConfig{
			CommandTimeout:  10 * time.Minute,
			LongTimeout:     time.Hour,
			WriteTimeout:    2 * time.Second,
			MaxOutputLines:  10000,
			Debounce:        250 * time.Millisecond,
			PromptScanLines: 5,
			RefreshInterval: 2 * time.Second,
		},
		Transfer: TransferConfig{
			Backend:    "pty",
			Program:    "scp",
			LogBudget:  64 * 1024,
			Timeout:    time.Hour,
			KnownHosts: "~/.ssh/known_hosts",
			UseAgent:   true,
		},
		History: HistoryConfig{
			Backend: "sqlite",
			Limit:   5000,
		},
		Security: SecurityConfig{
			MaxAuthFailures:     3,
			AuthLockoutDuration: 5 * time.Minute,
			UseKeyring:          true,
			KeyringService:      "blockterm",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings that cannot work and fills in zero values that
// must not be zero.
func (c *Config) Validate() error {
	d := DefaultConfig()

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	case "":
		c.Logging.Level = d.Logging.Level
	default:
		return fmt.Errorf("logging.level %q: want debug, info, warn or error", c.Logging.Level)
	}

	switch c.Transfer.Backend {
	case "pty", "sftp":
	case "":
		c.Transfer.Backend = d.Transfer.Backend
	default:
		return fmt.Errorf("transfer.backend %q: want pty or sftp", c.Transfer.Backend)
	}
	switch filepath.Base(c.Transfer.Program) {
	case "scp", "rsync":
	case ".":
		c.Transfer.Program = d.Transfer.Program
	default:
		return fmt.Errorf("transfer.program %q: want scp or rsync", c.Transfer.Program)
	}

	switch c.History.Backend {
	case "sqlite", "memory":
	case "":
		c.History.Backend = d.History.Backend
	default:
		return fmt.Errorf("history.backend %q: want sqlite or memory", c.History.Backend)
	}

	for name, v := range map[string]time.Duration{
		"engine.command_timeout":         c.Engine.CommandTimeout,
		"engine.long_timeout":            c.Engine.LongTimeout,
		"engine.interactive_timeout":     c.Engine.InteractiveTimeout,
		"engine.write_timeout":           c.Engine.WriteTimeout,
		"engine.debounce":                c.Engine.Debounce,
		"engine.refresh_interval":        c.Engine.RefreshInterval,
		"transfer.timeout":               c.Transfer.Timeout,
		"security.auth_lockout_duration": c.Security.AuthLockoutDuration,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if c.Engine.MaxOutputLines <= 0 {
		c.Engine.MaxOutputLines = d.Engine.MaxOutputLines
	}
	if c.Engine.PromptScanLines <= 0 {
		c.Engine.PromptScanLines = d.Engine.PromptScanLines
	}
	if c.Transfer.LogBudget <= 0 {
		c.Transfer.LogBudget = d.Transfer.LogBudget
	}
	if c.History.Limit <= 0 {
		c.History.Limit = d.History.Limit
	}
	if c.Security.MaxAuthFailures <= 0 {
		c.Security.MaxAuthFailures = d.Security.MaxAuthFailures
	}
	if c.Security.KeyringService == "" {
		c.Security.KeyringService = d.Security.KeyringService
	}

	for _, list := range [][]string{c.Security.CommandBlocklist, c.Security.CommandAllowlist} {
		for _, p := range list {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("command filter pattern %q: %w", p, err)
			}
		}
	}
	for _, p := range c.PromptDetection.CustomPatterns {
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("prompt pattern %q: %w", p.Name, err)
		}
	}

	return nil
}

// HistoryPath returns the configured history database, or the default.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return DefaultHistoryPath()
}

// RecordingPath returns the configured recording directory, or the default.
func (c *Config) RecordingPath() string {
	if c.Recording.Path != "" {
		return c.Recording.Path
	}
	return DefaultRecordingPath()
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
