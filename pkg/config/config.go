package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFileName = "config.yaml"

// Config captures the user-adjustable knobs for the media key daemon.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Control    ControlConfig    `yaml:"control"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Automation AutomationConfig `yaml:"automation"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Targets lists the supported player bundle identifiers in priority order.
	Targets []string `yaml:"targets"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `yaml:"-"`
}

// PathsConfig controls filesystem locations used by the daemon.
type PathsConfig struct {
	PreferencesFile string `yaml:"preferences_file"`
}

// ControlConfig configures the local control API.
type ControlConfig struct {
	Listen string `yaml:"listen"`
}

// WorkspaceConfig tunes process lifecycle observation.
type WorkspaceConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	RecheckInterval time.Duration `yaml:"recheck_interval"`
}

// AutomationConfig bounds outbound scripting calls.
type AutomationConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultTargets is the built-in player list, in selection order.
var DefaultTargets = []string{
	"com.apple.Music",
	"com.spotify.client",
	"co.brushedtype.doppler-macos",
	"computer.crispycrunchy.radiccio",
	"org.cogx.cog",
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			PreferencesFile: defaultPreferencesFile(),
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:47654",
		},
		Workspace: WorkspaceConfig{
			PollInterval:    time.Second,
			RecheckInterval: 30 * time.Second,
		},
		Automation: AutomationConfig{
			CommandTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Targets: append([]string(nil), DefaultTargets...),
		Source:  "<defaults>",
	}
}

func defaultPreferencesFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "keyhole-preferences.yaml"
	}
	return filepath.Join(dir, "keyhole", "preferences.yaml")
}

// Load reads configuration from disk if present, otherwise returning defaults.
// When path is empty, the loader attempts to read ./config.yaml but tolerates a missing file.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return cfg, fmt.Errorf("config file %q not found", candidate)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
	}

	if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
		return cfg, err
	}
	cfg.Source = candidate
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.PreferencesFile) == "" {
		return errors.New("paths.preferences_file must not be empty")
	}
	if strings.TrimSpace(c.Control.Listen) == "" {
		return errors.New("control.listen must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	if c.Workspace.PollInterval <= 0 {
		return errors.New("workspace.poll_interval must be positive")
	}
	if c.Workspace.RecheckInterval < 0 {
		return errors.New("workspace.recheck_interval must not be negative")
	}
	if c.Automation.CommandTimeout <= 0 {
		return errors.New("automation.command_timeout must be positive")
	}

	if len(c.Targets) == 0 {
		return errors.New("targets must list at least one bundle identifier")
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, id := range c.Targets {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("targets: duplicate bundle identifier %q", id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

func (c *Config) normalize() {
	defaults := Default()

	c.Paths.PreferencesFile = strings.TrimSpace(c.Paths.PreferencesFile)
	if c.Paths.PreferencesFile == "" {
		c.Paths.PreferencesFile = defaults.Paths.PreferencesFile
	} else {
		c.Paths.PreferencesFile = filepath.Clean(c.Paths.PreferencesFile)
	}
	if strings.TrimSpace(c.Control.Listen) == "" {
		c.Control.Listen = defaults.Control.Listen
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	if c.Workspace.PollInterval <= 0 {
		c.Workspace.PollInterval = defaults.Workspace.PollInterval
	}
	if c.Automation.CommandTimeout <= 0 {
		c.Automation.CommandTimeout = defaults.Automation.CommandTimeout
	}

	targets := make([]string, 0, len(c.Targets))
	for _, id := range c.Targets {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	if len(targets) == 0 {
		targets = defaults.Targets
	}
	c.Targets = targets
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
