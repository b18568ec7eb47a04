package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 9090
log:
  log_level: "DEBUG"
optimize:
  workers: 2
  retention: 5m
registry:
  driver: "memory"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader().WithDotEnv(false).WithPath(configFile)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected server port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Optimize.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Optimize.Workers)
	}
	if cfg.Optimize.Retention != 5*time.Minute {
		t.Errorf("expected 5m retention, got %s", cfg.Optimize.Retention)
	}
	// Untouched sections keep their defaults.
	if cfg.Optimize.DownloadsDir != "data/downloads" {
		t.Errorf("expected default downloads dir, got %s", cfg.Optimize.DownloadsDir)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader().WithDotEnv(false).WithPath(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("IMGOPT_SERVER_PORT", "7777")
	t.Setenv("IMGOPT_REGISTRY_DRIVER", "redis")
	t.Setenv("IMGOPT_REDIS_ADDR", "127.0.0.1:6390")

	loader := NewLoader().WithDotEnv(false).WithPath(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected env port override, got %d", cfg.Server.Port)
	}
	if cfg.Registry.Driver != "redis" || cfg.Registry.Redis.Addr != "127.0.0.1:6390" {
		t.Errorf("expected redis registry override, got %+v", cfg.Registry)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}, wantErr: false},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Optimize.Workers = 0 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Registry.Driver = "etcd" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
