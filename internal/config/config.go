package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/marcelocantos/pipecmd/internal/logging"
	"github.com/marcelocantos/pipecmd/internal/rules"
)

// EnvPrefix is the prefix for environment overrides, e.g. PIPECMD_LOG_LEVEL.
const EnvPrefix = "pipecmd"

// Config holds the global pipecmd configuration.
type Config struct {
	Log   LogConfig                          `yaml:"log"`
	Audit AuditConfig                        `yaml:"audit"`
	Rules map[string]rules.ProgramRuleConfig `yaml:"rules"`
	// Vars are predeclared as strings when evaluating --expr descriptions.
	Vars map[string]string `yaml:"vars"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AuditConfig controls the audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// envOverrides are read from the environment after the file is loaded.
// Unset variables leave the file values alone.
type envOverrides struct {
	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogDev    bool   `envconfig:"LOG_DEV"`
	AuditPath string `envconfig:"AUDIT_PATH"`
	NoAudit   bool   `envconfig:"NO_AUDIT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Log: LogConfig{
			Level: logging.DefaultConfig().Level,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".local", "share", "pipecmd", "audit.jsonl"),
		},
	}
}

// Load reads the config from the standard location (~/.config/pipecmd/config.yaml)
// and applies environment overrides. If the file doesn't exist, the
// defaults are used.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config from the given path and applies environment
// overrides.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Audit.Path = expandHome(cfg.Audit.Path)
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.LogDev {
		c.Log.Development = true
	}
	if env.AuditPath != "" {
		c.Audit.Path = env.AuditPath
	}
	if env.NoAudit {
		c.Audit.Enabled = false
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, path[1:])
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	if c.Log.Level != "" {
		lc.Level = c.Log.Level
	}
	lc.Development = c.Log.Development
	return lc
}

// RuleSet compiles the configured rules on top of the hardcoded ones.
func (c *Config) RuleSet() *rules.RuleSet {
	rs := rules.NewRuleSet(rules.Hardcoded()...)
	for name, r := range c.Rules {
		for _, fn := range rules.CompileProgramRule(name, r) {
			rs.AddConfig(fn)
		}
	}
	return rs
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pipecmd", "config.yaml")
}
