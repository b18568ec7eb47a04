package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"imgopt-server-go/internal/domain/archive"
	domainimage "imgopt-server-go/internal/domain/image"
	"imgopt-server-go/internal/domain/job"
	"imgopt-server-go/internal/domain/job/events"
	"imgopt-server-go/internal/domain/job/registry"
	"imgopt-server-go/internal/domain/stats"
	platformerrors "imgopt-server-go/internal/platform/errors"
	"imgopt-server-go/internal/platform/logging"
	"imgopt-server-go/internal/util/work"
)

const logTag = "JOB"

// Batch is one accepted optimization request queued for processing.
type Batch struct {
	JobID   string
	Archive []byte
	Options domainimage.Options
}

// Config tunes the processing pool and artifact placement.
type Config struct {
	Workers      int
	QueueDepth   int
	DownloadsDir string
}

// Runner drains accepted batches through a fixed worker pool. Each batch is
// processed entry by entry in archive order; the per-file events and the final
// terminal event go out on the job's channel.
type Runner struct {
	registry     registry.Store
	hub          *events.Hub
	counter      stats.Counter
	logger       *logging.Logger
	downloadsDir string
	pool         *work.Pool[Batch]
}

// New starts the runner's worker pool.
func New(cfg Config, reg registry.Store, hub *events.Hub, counter stats.Counter, logger *logging.Logger) (*Runner, error) {
	if cfg.DownloadsDir == "" {
		return nil, platformerrors.New(
			platformerrors.KindBootstrap, "runner.new", "downloads directory required")
	}
	if err := os.MkdirAll(cfg.DownloadsDir, 0o755); err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindBootstrap, "runner.new", "create downloads directory", err)
	}

	r := &Runner{
		registry:     reg,
		hub:          hub,
		counter:      counter,
		logger:       logger,
		downloadsDir: cfg.DownloadsDir,
	}
	r.pool = work.NewPool(cfg.Workers, cfg.QueueDepth, r.process)
	return r, nil
}

// Submit queues a batch. The job must already exist in the registry.
func (r *Runner) Submit(batch Batch) error {
	return r.pool.Submit(batch)
}

// Stop drains the queue and waits for in-flight batches.
func (r *Runner) Stop() {
	r.pool.Stop()
}

// FailJob force-fails a job that can no longer make progress, e.g. one left
// running past its deadline. The terminal event reaches any attached viewer.
func (r *Runner) FailJob(ctx context.Context, jobID, reason string) {
	if err := r.registry.SetState(ctx, jobID, job.StateFailed, reason); err != nil {
		r.logger.WarnTag(logTag, "mark job %s failed: %v", jobID, err)
	}
	r.hub.Open(jobID).Publish(events.NewFailed(reason))
}

func (r *Runner) process(batch Batch) {
	ctx := context.Background()
	ch := r.hub.Open(batch.JobID)

	entries, err := archive.ExtractEntries(batch.Archive)
	if err != nil {
		r.fail(ctx, ch, batch.JobID, fmt.Sprintf("extract archive: %v", err))
		return
	}
	if len(entries) == 0 {
		r.fail(ctx, ch, batch.JobID, "archive contains no images")
		return
	}

	total := len(entries)
	if err := r.registry.SetProgress(ctx, batch.JobID, 0, total); err != nil {
		r.logger.WarnTag(logTag, "record total for job %s: %v", batch.JobID, err)
	}

	files := make([]archive.File, 0, total)
	var optimized int64
	for i, entry := range entries {
		payload, res := domainimage.Transform(entry.Name, entry.Data, entry.Format, batch.Options)
		files = append(files, archive.File{Name: res.OutputName, Data: payload})
		if res.Status == domainimage.StatusOptimized || res.Status == domainimage.StatusConverted {
			optimized++
		}

		ch.Publish(events.NewFileComplete(res))
		ch.Publish(events.NewProgress(float64(i+1) / float64(total) * 100))
		if err := r.registry.SetProgress(ctx, batch.JobID, i+1, total); err != nil {
			r.logger.WarnTag(logTag, "record progress for job %s: %v", batch.JobID, err)
		}
	}

	payload, err := archive.CreateArchive(files)
	if err != nil {
		r.fail(ctx, ch, batch.JobID, fmt.Sprintf("build output archive: %v", err))
		return
	}

	artifactID := uuid.NewString()
	path := filepath.Join(r.downloadsDir, artifactID+".zip")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		r.fail(ctx, ch, batch.JobID, fmt.Sprintf("write artifact: %v", err))
		return
	}

	if err := r.registry.SetArtifact(ctx, batch.JobID, artifactID, path); err != nil {
		os.Remove(path)
		r.fail(ctx, ch, batch.JobID, fmt.Sprintf("record artifact: %v", err))
		return
	}
	if err := r.registry.SetState(ctx, batch.JobID, job.StateDone, ""); err != nil {
		r.logger.WarnTag(logTag, "mark job %s done: %v", batch.JobID, err)
	}
	if err := r.counter.Add(ctx, stats.CounterOptimizations, optimized); err != nil {
		r.logger.WarnTag(logTag, "bump optimization counter for job %s: %v", batch.JobID, err)
	}

	ch.Publish(events.NewComplete(artifactID))
	r.logger.InfoTag(logTag, "job %s finished: %d entries, artifact %s",
		batch.JobID, total, artifactID)
}

func (r *Runner) fail(ctx context.Context, ch *events.Channel, jobID, reason string) {
	if err := r.registry.SetState(ctx, jobID, job.StateFailed, reason); err != nil {
		r.logger.WarnTag(logTag, "mark job %s failed: %v", jobID, err)
	}
	ch.Publish(events.NewFailed(reason))
	r.logger.WarnTag(logTag, "job %s failed: %s", jobID, reason)
}
