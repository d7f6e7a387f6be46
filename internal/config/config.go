// Package config provides YAML-based configuration loading for the
// switchboard runtime.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the top-level runtime configuration: user name, adapters,
// state backend, and logger settings.
type Config struct {
	UserName string                    `yaml:"user_name"`
	Adapters map[string]AdapterConfig  `yaml:"adapters"`
	State    StateConfig               `yaml:"state"`
	Logger   LoggerConfig              `yaml:"logger"`
	HTTP     HTTPConfig                `yaml:"http"`
	Tasks    map[string]PeriodicConfig `yaml:"tasks"`
}

// AdapterConfig holds the credentials and identity for one platform
// adapter. Only the fields relevant to the configured Kind are read.
type AdapterConfig struct {
	Kind           string `yaml:"kind"` // "discord", "slack", "github"
	BotToken       string `yaml:"bot_token"`
	SigningSecret  string `yaml:"signing_secret"`
	AppID          string `yaml:"app_id"`
	GuildID        string `yaml:"guild_id"`
	ChannelID      string `yaml:"channel_id"`
	WebhookPath    string `yaml:"webhook_path"`
	ReplaySkewSec  int    `yaml:"replay_skew_sec"` // default 300 (5 min)
	InstallationID int64  `yaml:"installation_id"`
}

// StateConfig selects and configures the state-store backend.
type StateConfig struct {
	Backend  string `yaml:"backend"` // "memory", "redis", "gorm"
	RedisURL string `yaml:"redis_url"`
	DSN      string `yaml:"dsn"`   // gorm backend connection string
	Driver   string `yaml:"driver"` // "sqlite", "mysql"
}

// LoggerConfig selects the log level.
type LoggerConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error|silent
}

// HTTPConfig configures the webhook HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // default ":8080"
}

// PeriodicConfig configures an optional cron-scheduled background task.
type PeriodicConfig struct {
	Cron    string `yaml:"cron"`
	Enabled bool   `yaml:"enabled"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values, and resolves
// ${VAR}-style environment references in secret fields.
func (c *Config) applyDefaults() {
	if c.State.Backend == "" {
		c.State.Backend = "memory"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	c.State.RedisURL = resolveEnvVars(c.State.RedisURL)
	c.State.DSN = resolveEnvVars(c.State.DSN)
	for name, a := range c.Adapters {
		a.BotToken = resolveEnvVars(a.BotToken)
		a.SigningSecret = resolveEnvVars(a.SigningSecret)
		if a.ReplaySkewSec == 0 {
			a.ReplaySkewSec = 300
		}
		c.Adapters[name] = a
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.UserName == "" {
		errs = append(errs, "user_name is required")
	}
	if len(c.Adapters) == 0 {
		errs = append(errs, "at least one adapter is required")
	}
	for name, a := range c.Adapters {
		if a.Kind == "" {
			errs = append(errs, fmt.Sprintf("adapters[%s].kind is required", name))
		}
	}
	switch c.State.Backend {
	case "memory", "redis", "gorm":
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q is not recognized", c.State.Backend))
	}
	if c.State.Backend == "redis" && c.State.RedisURL == "" {
		errs = append(errs, "state.redis_url is required when state.backend is redis")
	}
	if c.State.Backend == "gorm" && c.State.DSN == "" {
		errs = append(errs, "state.dsn is required when state.backend is gorm")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func resolveEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
