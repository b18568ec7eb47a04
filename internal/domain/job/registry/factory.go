package registry

import (
	"gorm.io/gorm"

	platformerrors "imgopt-server-go/internal/platform/errors"
)

// Dependencies carries externally owned handles a driver may need.
type Dependencies struct {
	DB *gorm.DB
}

// New selects a registry driver from configuration. Unknown drivers are a
// startup error rather than a silent fallback.
func New(cfg Config, deps Dependencies) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg), nil
	case "redis":
		return NewRedis(cfg)
	case "sqlite":
		return NewSQLite(deps.DB, cfg)
	default:
		return nil, platformerrors.New(
			platformerrors.KindBootstrap, "registry.new", "unknown registry driver: "+cfg.Driver)
	}
}
