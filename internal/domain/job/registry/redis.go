package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"imgopt-server-go/internal/domain/job"
	platformerrors "imgopt-server-go/internal/platform/errors"
)

type redisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedis builds a redis-backed job registry.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, platformerrors.New(
			platformerrors.KindStorage, "registry.redis", "redis driver requires an address")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindStorage, "registry.redis", "ping redis", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "imgopt:"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * time.Minute
	}

	return &redisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}, nil
}

func (s *redisStore) jobKey(jobID string) string {
	return s.prefix + "job:" + jobID
}

func (s *redisStore) artifactKey(artifactID string) string {
	return s.prefix + "artifact:" + artifactID
}

// redisJob is the wire form of a job. The API representation hides the
// artifact path, so the store keeps its own marshalling shape.
type redisJob struct {
	job.Job
	ArtifactPath string `json:"artifact_path"`
}

func (s *redisStore) save(ctx context.Context, j job.Job) error {
	raw, err := json.Marshal(redisJob{Job: j, ArtifactPath: j.ArtifactPath})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "registry.redis", "marshal job", err)
	}
	return s.client.Set(ctx, s.jobKey(j.ID), raw, 0).Err()
}

func decodeJob(raw []byte) (job.Job, error) {
	var rec redisJob
	if err := json.Unmarshal(raw, &rec); err != nil {
		return job.Job{}, platformerrors.Wrap(
			platformerrors.KindStorage, "registry.redis", "unmarshal job", err)
	}
	rec.Job.ArtifactPath = rec.ArtifactPath
	return rec.Job, nil
}

func (s *redisStore) load(ctx context.Context, jobID string) (job.Job, error) {
	raw, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return job.Job{}, notFound("registry.get", jobID)
	}
	if err != nil {
		return job.Job{}, platformerrors.Wrap(
			platformerrors.KindStorage, "registry.redis", "load job", err)
	}
	return decodeJob(raw)
}

func (s *redisStore) Create(ctx context.Context, j job.Job) error {
	if j.ID == "" {
		return platformerrors.New(platformerrors.KindValidation, "registry.create", "job id required")
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	return s.save(ctx, j)
}

func (s *redisStore) Get(ctx context.Context, jobID string) (job.Job, error) {
	return s.load(ctx, jobID)
}

func (s *redisStore) GetByArtifact(ctx context.Context, artifactID string) (job.Job, error) {
	jobID, err := s.client.Get(ctx, s.artifactKey(artifactID)).Result()
	if err == redis.Nil {
		return job.Job{}, platformerrors.New(
			platformerrors.KindNotFound, "registry.get_artifact", "artifact not found: "+artifactID)
	}
	if err != nil {
		return job.Job{}, platformerrors.Wrap(
			platformerrors.KindStorage, "registry.redis", "resolve artifact", err)
	}
	return s.load(ctx, jobID)
}

func (s *redisStore) SetState(ctx context.Context, jobID string, state job.State, failReason string) error {
	j, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State.Terminal() {
		return nil
	}
	j.State = state
	j.FailReason = failReason
	j.UpdatedAt = time.Now()
	return s.save(ctx, j)
}

func (s *redisStore) SetProgress(ctx context.Context, jobID string, processed, total int) error {
	j, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	j.Processed = processed
	j.Total = total
	j.UpdatedAt = time.Now()
	return s.save(ctx, j)
}

func (s *redisStore) SetArtifact(ctx context.Context, jobID, artifactID, path string) error {
	j, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	j.ArtifactID = artifactID
	j.ArtifactPath = path
	j.UpdatedAt = time.Now()
	if err := s.save(ctx, j); err != nil {
		return err
	}
	return s.client.Set(ctx, s.artifactKey(artifactID), jobID, 0).Err()
}

func (s *redisStore) Delete(ctx context.Context, jobID string) error {
	j, err := s.load(ctx, jobID)
	if err != nil {
		if platformerrors.IsKind(err, platformerrors.KindNotFound) {
			return nil
		}
		return err
	}
	if j.ArtifactID != "" {
		_ = s.client.Del(ctx, s.artifactKey(j.ArtifactID)).Err()
	}
	return s.client.Del(ctx, s.jobKey(jobID)).Err()
}

func (s *redisStore) scanJobs(ctx context.Context) ([]job.Job, error) {
	var jobs []job.Job
	iter := s.client.Scan(ctx, 0, s.prefix+"job:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		j, err := decodeJob(raw)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	if err := iter.Err(); err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindStorage, "registry.redis", "scan jobs", err)
	}
	return jobs, nil
}

func (s *redisStore) CleanupExpired(ctx context.Context) ([]job.Job, error) {
	jobs, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-s.retention)
	var reclaimed []job.Job
	for _, j := range jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(cutoff) {
			if err := s.Delete(ctx, j.ID); err == nil {
				reclaimed = append(reclaimed, j)
			}
		}
	}
	return reclaimed, nil
}

func (s *redisStore) ListStale(ctx context.Context, cutoff time.Time) ([]job.Job, error) {
	jobs, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	var stale []job.Job
	for _, j := range jobs {
		if j.State == job.StateRunning && j.CreatedAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	jobs, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}
	running := 0
	for _, j := range jobs {
		if j.State == job.StateRunning {
			running++
		}
	}
	return map[string]any{
		"type":    "redis",
		"total":   len(jobs),
		"running": running,
	}, nil
}

func (s *redisStore) Close(_ context.Context) error {
	return s.client.Close()
}
