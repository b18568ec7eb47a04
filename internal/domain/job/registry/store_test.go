package registry

import (
	"context"
	"testing"
	"time"

	domainimage "imgopt-server-go/internal/domain/image"
	"imgopt-server-go/internal/domain/job"
	platformerrors "imgopt-server-go/internal/platform/errors"
)

func newJob(id string) job.Job {
	return job.Job{
		ID:    id,
		State: job.StateRunning,
		Options: domainimage.Options{
			JPEGQuality:      85,
			ConvertPNGToJPEG: true,
		},
		Total: 3,
	}
}

// exerciseStore runs the driver-independent contract checks.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Create(ctx, newJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateRunning || got.Options.JPEGQuality != 85 {
		t.Fatalf("unexpected job after create: %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !platformerrors.IsKind(err, platformerrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.SetProgress(ctx, "job-1", 2, 3); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if err := s.SetArtifact(ctx, "job-1", "art-1", "/tmp/art-1.zip"); err != nil {
		t.Fatalf("set artifact: %v", err)
	}

	byArtifact, err := s.GetByArtifact(ctx, "art-1")
	if err != nil {
		t.Fatalf("get by artifact: %v", err)
	}
	if byArtifact.ID != "job-1" || byArtifact.ArtifactPath != "/tmp/art-1.zip" {
		t.Fatalf("artifact lookup returned wrong job: %+v", byArtifact)
	}

	if err := s.SetState(ctx, "job-1", job.StateDone, ""); err != nil {
		t.Fatalf("set state: %v", err)
	}
	// Terminal states absorb later transitions.
	if err := s.SetState(ctx, "job-1", job.StateFailed, "late failure"); err != nil {
		t.Fatalf("set state after terminal: %v", err)
	}
	got, err = s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get after terminal: %v", err)
	}
	if got.State != job.StateDone || got.FailReason != "" {
		t.Fatalf("terminal state was overwritten: %+v", got)
	}
	if got.Processed != 2 || got.Total != 3 {
		t.Fatalf("progress lost: %+v", got)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["total"] != 1 || stats["running"] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "job-1"); !platformerrors.IsKind(err, platformerrors.KindNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := s.GetByArtifact(ctx, "art-1"); !platformerrors.IsKind(err, platformerrors.KindNotFound) {
		t.Fatalf("artifact index should be gone after delete, got %v", err)
	}
}

// exerciseRetention verifies cleanup returns reclaimed jobs and leaves live
// ones alone. The store must be configured with a very short retention.
func exerciseRetention(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Create(ctx, newJob("old")); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := s.SetArtifact(ctx, "old", "art-old", "/tmp/art-old.zip"); err != nil {
		t.Fatalf("set artifact: %v", err)
	}
	if err := s.SetState(ctx, "old", job.StateDone, ""); err != nil {
		t.Fatalf("finish old: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := s.Create(ctx, newJob("live")); err != nil {
		t.Fatalf("create live: %v", err)
	}

	reclaimed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != "old" {
		t.Fatalf("expected only the old job reclaimed, got %+v", reclaimed)
	}
	if reclaimed[0].ArtifactPath != "/tmp/art-old.zip" {
		t.Fatalf("reclaimed job lost artifact path: %+v", reclaimed[0])
	}

	if _, err := s.Get(ctx, "live"); err != nil {
		t.Fatalf("running job must survive cleanup: %v", err)
	}

	stale, err := s.ListStale(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "live" {
		t.Fatalf("expected the running job to be stale, got %+v", stale)
	}
}
