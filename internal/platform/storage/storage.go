package storage

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"imgopt-server-go/internal/platform/errors"
)

// Open creates (or opens) the sqlite database and applies schema migrations.
func Open(dsn string) (*gorm.DB, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "storage.open", "create database dir", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "open sqlite database", err)
	}

	if err := db.AutoMigrate(&JobRecord{}, &StatsCounter{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrate", "run schema migration", err)
	}

	return db, nil
}
