package bootstrap

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const sweepInterval = time.Minute

// startSweeper runs the periodic maintenance loop: reclaim terminal jobs past
// their retention window (deleting artifact files) and force-fail jobs stuck
// in the running state past the job timeout.
func startSweeper(state *appState, g *errgroup.Group, groupCtx context.Context) {
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				sweep(groupCtx, state)
			}
		}
	})
}

func sweep(ctx context.Context, state *appState) {
	logger := state.logger

	reclaimed, err := state.registry.CleanupExpired(ctx)
	if err != nil {
		logger.WarnTag("REG", "cleanup expired jobs: %v", err)
	}
	for _, j := range reclaimed {
		if j.ArtifactPath != "" {
			if err := os.Remove(j.ArtifactPath); err != nil && !os.IsNotExist(err) {
				logger.WarnTag("REG", "remove artifact for job %s: %v", j.ID, err)
			}
		}
		state.hub.Remove(j.ID)
	}
	if len(reclaimed) > 0 {
		logger.InfoTag("REG", "reclaimed %d expired job(s)", len(reclaimed))
	}

	timeout := state.config.Optimize.JobTimeout
	if timeout <= 0 {
		return
	}
	stale, err := state.registry.ListStale(ctx, time.Now().Add(-timeout))
	if err != nil {
		logger.WarnTag("REG", "list stale jobs: %v", err)
		return
	}
	for _, j := range stale {
		state.runner.FailJob(ctx, j.ID, "job timed out")
	}
}
