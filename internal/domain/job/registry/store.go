package registry

import (
	"context"
	"time"

	"imgopt-server-go/internal/domain/job"
)

// Store defines the behaviour required by the runner and the transport layer.
// Every mutation is keyed by job identifier and safe for concurrent use by
// one writer (the runner) and many readers (streaming endpoints).
type Store interface {
	Create(ctx context.Context, j job.Job) error
	Get(ctx context.Context, jobID string) (job.Job, error)
	GetByArtifact(ctx context.Context, artifactID string) (job.Job, error)
	SetState(ctx context.Context, jobID string, state job.State, failReason string) error
	SetProgress(ctx context.Context, jobID string, processed, total int) error
	SetArtifact(ctx context.Context, jobID, artifactID, path string) error
	Delete(ctx context.Context, jobID string) error
	// CleanupExpired removes terminal jobs older than the retention window
	// and returns them so the caller can reclaim artifact files.
	CleanupExpired(ctx context.Context) ([]job.Job, error)
	// ListStale returns running jobs created before the cutoff, candidates
	// for forced failure.
	ListStale(ctx context.Context, cutoff time.Time) ([]job.Job, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver    string
	Retention time.Duration
	Redis     *RedisConfig
	SQLite    *SQLiteConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// SQLiteConfig provides the database dependency parameters.
type SQLiteConfig struct {
	DSN string
}
