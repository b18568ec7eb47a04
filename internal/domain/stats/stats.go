package stats

import (
	"context"
	"time"

	"gorm.io/gorm"

	platformerrors "imgopt-server-go/internal/platform/errors"
)

// CounterOptimizations is the lifetime count of successfully optimized images.
const CounterOptimizations = "optimizations"

// Counter accumulates named lifetime totals that survive individual jobs.
type Counter interface {
	Add(ctx context.Context, name string, delta int64) error
	Total(ctx context.Context, name string) (int64, error)
	Close(ctx context.Context) error
}

// Config selects the counter driver. Redis settings are shared with the job
// registry when both use the same instance.
type Config struct {
	Driver string
	Redis  *RedisConfig
}

// RedisConfig captures connection options for the redis driver.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Dependencies carries externally owned handles a driver may need.
type Dependencies struct {
	DB *gorm.DB
}

// New selects a counter driver from configuration.
func New(cfg Config, deps Dependencies) (Counter, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg)
	case "sqlite":
		return NewSQLite(deps.DB)
	default:
		return nil, platformerrors.New(
			platformerrors.KindBootstrap, "stats.new", "unknown stats driver: "+cfg.Driver)
	}
}

const redisDialTimeout = 5 * time.Second
