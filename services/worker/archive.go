package worker

import (
	"context"
	"errors"
	"fmt"

	"hpcjobs-controlplane/services/job"

	"go.uber.org/zap"
)

// ArchivePhase copies a completed job's output tree to its archive system.
// Archiving is optional and runs after the job has otherwise completed, so
// an archive failure never retroactively fails the job itself.
type ArchivePhase struct {
	jobs       *job.Manager
	actions    ActionFactory
	maxRetries int
}

func NewArchivePhase(jobs *job.Manager, actions ActionFactory, maxRetries int) *ArchivePhase {
	return &ArchivePhase{jobs: jobs, actions: actions, maxRetries: maxRetries}
}

func (p *ArchivePhase) Name() string             { return "archive" }
func (p *ArchivePhase) SourceStatus() job.Status { return job.StatusArchiving }

func (p *ArchivePhase) Process(ctx context.Context, ctl Control, j *job.Job) (Outcome, error) {
	if j.Status.Terminal() {
		return NothingToDo, nil
	}

	if !j.ArchiveOutput {
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusFinished, "Archiving disabled. Job complete."); err != nil {
			return Failed, err
		}
		return Advanced, nil
	}

	if ctl.Stopped() {
		// ARCHIVING is itself the claimable state; the job is re-selected
		// on the next cycle.
		return Paused, nil
	}

	j.Retries++
	if err := p.jobs.Persist(ctx, j); err != nil {
		return Failed, err
	}

	act := p.actions(j, nil)
	ctl.Track(act)
	runErr := act.Run(ctx)
	ctl.Track(nil)

	if refreshed := act.Job(); refreshed != nil {
		j = refreshed
	}

	if runErr != nil {
		if j.Retries > p.maxRetries || errors.Is(runErr, ErrDependencyMissing) {
			msg := fmt.Sprintf("Job completed, but archiving failed: %s", runErr.Error())
			if err := p.jobs.UpdateStatus(ctx, j, job.StatusFinished, msg); err != nil {
				return Failed, err
			}
			return Advanced, nil
		}
		zap.L().Warn("archive attempt failed",
			zap.String("job_uuid", j.UUID),
			zap.Int("attempt", j.Retries),
			zap.Error(runErr),
		)
		return Paused, nil
	}

	j.Retries = 0
	if err := p.jobs.UpdateStatus(ctx, j, job.StatusFinished, "Job archiving completed successfully."); err != nil {
		return Failed, err
	}
	return Advanced, nil
}

func (p *ArchivePhase) Rollback(ctx context.Context, j *job.Job) error {
	// Archive work is idempotent and ARCHIVING is the claimable state, so
	// an interrupted job needs no status change to be resumed.
	return nil
}
