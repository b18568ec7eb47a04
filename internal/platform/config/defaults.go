package config

import "time"

// DefaultConfig returns the built-in configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled:   true,
			StaticDir: "./web",
		},
		Optimize: OptimizeConfig{
			Workers:        4,
			MaxUploadBytes: 256 << 20,
			DownloadsDir:   "data/downloads",
			Retention:      30 * time.Minute,
			JobTimeout:     10 * time.Minute,
			EventBuffer:    64,
			KeepaliveEvery: 10 * time.Second,
		},
		Registry: RegistryConfig{
			Driver: "memory",
			SQLite: RegistrySQLite{
				DSN: "data/imgopt.db",
			},
		},
		Stats: StatsConfig{
			Driver: "memory",
		},
	}
}
