package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Optimize OptimizeConfig `yaml:"optimize"`
	Registry RegistryConfig `yaml:"registry"`
	Stats    StatsConfig    `yaml:"stats"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StaticDir string `yaml:"static_dir"`
}

// OptimizeConfig tunes the batch optimization pipeline.
type OptimizeConfig struct {
	Workers        int           `yaml:"workers"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	DownloadsDir   string        `yaml:"downloads_dir"`
	Retention      time.Duration `yaml:"retention"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	EventBuffer    int           `yaml:"event_buffer"`
	KeepaliveEvery time.Duration `yaml:"keepalive_every"`
	// DeleteAfterDownload reclaims an artifact right after it is served
	// instead of waiting for the retention sweeper.
	DeleteAfterDownload bool `yaml:"delete_after_download"`
}

// UnmarshalYAML accepts durations in Go notation ("30m", "10s"). Absent keys
// keep whatever value the struct already holds, so defaults survive partial
// config files.
func (o *OptimizeConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawOptimize struct {
		Workers             int    `yaml:"workers"`
		MaxUploadBytes      int64  `yaml:"max_upload_bytes"`
		DownloadsDir        string `yaml:"downloads_dir"`
		Retention           string `yaml:"retention"`
		JobTimeout          string `yaml:"job_timeout"`
		EventBuffer         int    `yaml:"event_buffer"`
		KeepaliveEvery      string `yaml:"keepalive_every"`
		DeleteAfterDownload bool   `yaml:"delete_after_download"`
	}

	raw := rawOptimize{
		Workers:             o.Workers,
		MaxUploadBytes:      o.MaxUploadBytes,
		DownloadsDir:        o.DownloadsDir,
		EventBuffer:         o.EventBuffer,
		DeleteAfterDownload: o.DeleteAfterDownload,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	o.Workers = raw.Workers
	o.MaxUploadBytes = raw.MaxUploadBytes
	o.DownloadsDir = raw.DownloadsDir
	o.EventBuffer = raw.EventBuffer
	o.DeleteAfterDownload = raw.DeleteAfterDownload

	for _, field := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retention", raw.Retention, &o.Retention},
		{"job_timeout", raw.JobTimeout, &o.JobTimeout},
		{"keepalive_every", raw.KeepaliveEvery, &o.KeepaliveEvery},
	} {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("parse optimize.%s: %w", field.name, err)
		}
		*field.dst = d
	}
	return nil
}

// RegistryConfig selects and configures the job registry backend.
type RegistryConfig struct {
	Driver string              `yaml:"driver"`
	Redis  RegistryRedisConfig `yaml:"redis,omitempty"`
	SQLite RegistrySQLite      `yaml:"sqlite,omitempty"`
}

type RegistryRedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type RegistrySQLite struct {
	DSN string `yaml:"dsn,omitempty"`
}

// StatsConfig configures the lifetime optimization counter.
type StatsConfig struct {
	Driver string              `yaml:"driver"`
	Redis  RegistryRedisConfig `yaml:"redis,omitempty"`
}
