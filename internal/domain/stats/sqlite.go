package stats

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	platformerrors "imgopt-server-go/internal/platform/errors"
	"imgopt-server-go/internal/platform/storage"
)

type sqliteCounter struct {
	db *gorm.DB
}

// NewSQLite builds a counter on an already opened and migrated database.
func NewSQLite(db *gorm.DB) (Counter, error) {
	if db == nil {
		return nil, platformerrors.New(
			platformerrors.KindStorage, "stats.sqlite", "sqlite driver requires a database handle")
	}
	return &sqliteCounter{db: db}, nil
}

func (c *sqliteCounter) Add(ctx context.Context, name string, delta int64) error {
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      gorm.Expr("value + ?", delta),
			"updated_at": time.Now(),
		}),
	}).Create(&storage.StatsCounter{
		Name:      name,
		Value:     delta,
		UpdatedAt: time.Now(),
	}).Error
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "stats.add", "upsert counter", err)
	}
	return nil
}

func (c *sqliteCounter) Total(ctx context.Context, name string) (int64, error) {
	var rec storage.StatsCounter
	err := c.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, platformerrors.Wrap(platformerrors.KindStorage, "stats.total", "read counter", err)
	}
	return rec.Value, nil
}

func (c *sqliteCounter) Close(_ context.Context) error {
	return nil
}
