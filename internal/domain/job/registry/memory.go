package registry

import (
	"context"
	"sync"
	"time"

	"imgopt-server-go/internal/domain/job"
	platformerrors "imgopt-server-go/internal/platform/errors"
)

type memoryStore struct {
	mutex     sync.RWMutex
	items     map[string]job.Job
	artifacts map[string]string // artifactID -> jobID
	retention time.Duration
}

// NewMemory builds an in-memory job registry.
func NewMemory(cfg Config) Store {
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &memoryStore{
		items:     make(map[string]job.Job),
		artifacts: make(map[string]string),
		retention: retention,
	}
}

func notFound(op, id string) error {
	return platformerrors.New(platformerrors.KindNotFound, op, "job not found: "+id)
}

func (s *memoryStore) Create(_ context.Context, j job.Job) error {
	if j.ID == "" {
		return platformerrors.New(platformerrors.KindValidation, "registry.create", "job id required")
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	s.mutex.Lock()
	s.items[j.ID] = j
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, jobID string) (job.Job, error) {
	s.mutex.RLock()
	j, ok := s.items[jobID]
	s.mutex.RUnlock()
	if !ok {
		return job.Job{}, notFound("registry.get", jobID)
	}
	return j, nil
}

func (s *memoryStore) GetByArtifact(_ context.Context, artifactID string) (job.Job, error) {
	s.mutex.RLock()
	jobID, ok := s.artifacts[artifactID]
	var j job.Job
	if ok {
		j, ok = s.items[jobID]
	}
	s.mutex.RUnlock()
	if !ok {
		return job.Job{}, platformerrors.New(
			platformerrors.KindNotFound, "registry.get_artifact", "artifact not found: "+artifactID)
	}
	return j, nil
}

func (s *memoryStore) SetState(_ context.Context, jobID string, state job.State, failReason string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, ok := s.items[jobID]
	if !ok {
		return notFound("registry.set_state", jobID)
	}
	if j.State.Terminal() {
		// Terminal states are absorbing.
		return nil
	}
	j.State = state
	j.FailReason = failReason
	j.UpdatedAt = time.Now()
	s.items[jobID] = j
	return nil
}

func (s *memoryStore) SetProgress(_ context.Context, jobID string, processed, total int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, ok := s.items[jobID]
	if !ok {
		return notFound("registry.set_progress", jobID)
	}
	j.Processed = processed
	j.Total = total
	j.UpdatedAt = time.Now()
	s.items[jobID] = j
	return nil
}

func (s *memoryStore) SetArtifact(_ context.Context, jobID, artifactID, path string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, ok := s.items[jobID]
	if !ok {
		return notFound("registry.set_artifact", jobID)
	}
	j.ArtifactID = artifactID
	j.ArtifactPath = path
	j.UpdatedAt = time.Now()
	s.items[jobID] = j
	s.artifacts[artifactID] = jobID
	return nil
}

func (s *memoryStore) Delete(_ context.Context, jobID string) error {
	s.mutex.Lock()
	if j, ok := s.items[jobID]; ok && j.ArtifactID != "" {
		delete(s.artifacts, j.ArtifactID)
	}
	delete(s.items, jobID)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) ([]job.Job, error) {
	cutoff := time.Now().Add(-s.retention)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var reclaimed []job.Job
	for id, j := range s.items {
		if j.State.Terminal() && j.UpdatedAt.Before(cutoff) {
			reclaimed = append(reclaimed, j)
			if j.ArtifactID != "" {
				delete(s.artifacts, j.ArtifactID)
			}
			delete(s.items, id)
		}
	}
	return reclaimed, nil
}

func (s *memoryStore) ListStale(_ context.Context, cutoff time.Time) ([]job.Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var stale []job.Job
	for _, j := range s.items {
		if j.State == job.StateRunning && j.CreatedAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	running := 0
	for _, j := range s.items {
		if j.State == job.StateRunning {
			running++
		}
	}
	return map[string]any{
		"type":    "memory",
		"total":   len(s.items),
		"running": running,
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	return nil
}
