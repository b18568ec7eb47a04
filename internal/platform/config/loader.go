package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration from a yaml file with env overrides layered on top.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader reading from the default config path.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      "config.yaml",
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the configuration file path (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Load reads the configuration file, falling back to defaults when it is absent.
func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			// No .env is fine, the process environment still applies.
		}
	}

	cfg := DefaultConfig()

	if raw, err := os.ReadFile(l.path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IMGOPT_SERVER_IP"); v != "" {
		cfg.Server.IP = v
	}
	if v := os.Getenv("IMGOPT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("IMGOPT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("IMGOPT_REGISTRY_DRIVER"); v != "" {
		cfg.Registry.Driver = v
	}
	if v := os.Getenv("IMGOPT_REDIS_ADDR"); v != "" {
		cfg.Registry.Redis.Addr = v
		cfg.Stats.Redis.Addr = v
	}
	if v := os.Getenv("IMGOPT_DOWNLOADS_DIR"); v != "" {
		cfg.Optimize.DownloadsDir = v
	}
}

// Validate rejects configurations the server cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Optimize.Workers <= 0 {
		return fmt.Errorf("optimize workers must be positive, got %d", cfg.Optimize.Workers)
	}
	if cfg.Optimize.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive, got %d", cfg.Optimize.EventBuffer)
	}
	switch cfg.Registry.Driver {
	case "", "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unsupported registry driver: %s", cfg.Registry.Driver)
	}
	return nil
}
