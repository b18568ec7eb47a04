package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	domainimage "imgopt-server-go/internal/domain/image"
	"imgopt-server-go/internal/domain/job"
	platformerrors "imgopt-server-go/internal/platform/errors"
	"imgopt-server-go/internal/platform/storage"
)

type sqliteStore struct {
	db        *gorm.DB
	retention time.Duration
}

// NewSQLite builds a registry on an already opened and migrated database.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, platformerrors.New(
			platformerrors.KindStorage, "registry.sqlite", "sqlite driver requires a database handle")
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &sqliteStore{db: db, retention: retention}, nil
}

func toRecord(j job.Job) (storage.JobRecord, error) {
	opts, err := json.Marshal(j.Options)
	if err != nil {
		return storage.JobRecord{}, platformerrors.Wrap(
			platformerrors.KindStorage, "registry.sqlite", "marshal options", err)
	}
	return storage.JobRecord{
		JobID:        j.ID,
		State:        string(j.State),
		Options:      opts,
		ArtifactID:   j.ArtifactID,
		ArtifactPath: j.ArtifactPath,
		Processed:    j.Processed,
		Total:        j.Total,
		FailReason:   j.FailReason,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}, nil
}

func fromRecord(rec storage.JobRecord) job.Job {
	var opts domainimage.Options
	_ = json.Unmarshal(rec.Options, &opts)
	return job.Job{
		ID:           rec.JobID,
		State:        job.State(rec.State),
		Options:      opts,
		ArtifactID:   rec.ArtifactID,
		ArtifactPath: rec.ArtifactPath,
		Processed:    rec.Processed,
		Total:        rec.Total,
		FailReason:   rec.FailReason,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (s *sqliteStore) Create(ctx context.Context, j job.Job) error {
	if j.ID == "" {
		return platformerrors.New(platformerrors.KindValidation, "registry.create", "job id required")
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	rec, err := toRecord(j)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "registry.create", "insert job", err)
	}
	return nil
}

func (s *sqliteStore) find(ctx context.Context, op, column, value string) (storage.JobRecord, error) {
	var rec storage.JobRecord
	err := s.db.WithContext(ctx).Where(column+" = ?", value).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, platformerrors.New(platformerrors.KindNotFound, op, "job not found: "+value)
	}
	if err != nil {
		return rec, platformerrors.Wrap(platformerrors.KindStorage, op, "query job", err)
	}
	return rec, nil
}

func (s *sqliteStore) Get(ctx context.Context, jobID string) (job.Job, error) {
	rec, err := s.find(ctx, "registry.get", "job_id", jobID)
	if err != nil {
		return job.Job{}, err
	}
	return fromRecord(rec), nil
}

func (s *sqliteStore) GetByArtifact(ctx context.Context, artifactID string) (job.Job, error) {
	rec, err := s.find(ctx, "registry.get_artifact", "artifact_id", artifactID)
	if err != nil {
		return job.Job{}, err
	}
	return fromRecord(rec), nil
}

func (s *sqliteStore) SetState(ctx context.Context, jobID string, state job.State, failReason string) error {
	rec, err := s.find(ctx, "registry.set_state", "job_id", jobID)
	if err != nil {
		return err
	}
	if job.State(rec.State).Terminal() {
		return nil
	}
	updates := map[string]any{
		"state":       string(state),
		"fail_reason": failReason,
		"updated_at":  time.Now(),
	}
	if err := s.db.WithContext(ctx).Model(&rec).Updates(updates).Error; err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "registry.set_state", "update job", err)
	}
	return nil
}

func (s *sqliteStore) SetProgress(ctx context.Context, jobID string, processed, total int) error {
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"processed":  processed,
			"total":      total,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "registry.set_progress", "update job", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("registry.set_progress", jobID)
	}
	return nil
}

func (s *sqliteStore) SetArtifact(ctx context.Context, jobID, artifactID, path string) error {
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"artifact_id":   artifactID,
			"artifact_path": path,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "registry.set_artifact", "update job", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("registry.set_artifact", jobID)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, jobID string) error {
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&storage.JobRecord{}).Error
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "registry.delete", "delete job", err)
	}
	return nil
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) ([]job.Job, error) {
	cutoff := time.Now().Add(-s.retention)

	var recs []storage.JobRecord
	err := s.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", []string{string(job.StateDone), string(job.StateFailed)}, cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "registry.cleanup", "query expired jobs", err)
	}

	var reclaimed []job.Job
	for _, rec := range recs {
		if err := s.Delete(ctx, rec.JobID); err != nil {
			continue
		}
		reclaimed = append(reclaimed, fromRecord(rec))
	}
	return reclaimed, nil
}

func (s *sqliteStore) ListStale(ctx context.Context, cutoff time.Time) ([]job.Job, error) {
	var recs []storage.JobRecord
	err := s.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", string(job.StateRunning), cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "registry.list_stale", "query stale jobs", err)
	}

	stale := make([]job.Job, 0, len(recs))
	for _, rec := range recs {
		stale = append(stale, fromRecord(rec))
	}
	return stale, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total, running int64
	if err := s.db.WithContext(ctx).Model(&storage.JobRecord{}).Count(&total).Error; err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "registry.stats", "count jobs", err)
	}
	err := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("state = ?", string(job.StateRunning)).Count(&running).Error
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "registry.stats", "count running jobs", err)
	}
	return map[string]any{
		"type":    "sqlite",
		"total":   int(total),
		"running": int(running),
	}, nil
}

func (s *sqliteStore) Close(_ context.Context) error {
	return nil
}
