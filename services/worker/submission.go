package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/quota"
	"hpcjobs-controlplane/services/system"

	"go.uber.org/zap"
)

// SubmissionPhase hands a STAGED job to the remote scheduler. Unlike
// staging there is no internal retry loop: a failed attempt is cheap to
// re-select on the next polling cycle, so one invocation performs at most
// one submission attempt.
type SubmissionPhase struct {
	jobs    *job.Manager
	systems system.AvailabilityCheck
	quota   quota.Check
	actions ActionFactory

	// maxRetries bounds attempts across invocations, not within one.
	maxRetries     int
	window         time.Duration
	dedicatedLocal bool
}

func NewSubmissionPhase(jobs *job.Manager, systems system.AvailabilityCheck, qc quota.Check,
	actions ActionFactory, maxRetries int, window time.Duration, dedicatedLocal bool) *SubmissionPhase {
	return &SubmissionPhase{
		jobs:           jobs,
		systems:        systems,
		quota:          qc,
		actions:        actions,
		maxRetries:     maxRetries,
		window:         window,
		dedicatedLocal: dedicatedLocal,
	}
}

func (p *SubmissionPhase) Name() string             { return "submission" }
func (p *SubmissionPhase) SourceStatus() job.Status { return job.StatusStaged }

func (p *SubmissionPhase) Process(ctx context.Context, ctl Control, j *job.Job) (Outcome, error) {
	if j.Status.Terminal() {
		return NothingToDo, nil
	}

	zapLog := zap.L().With(
		zap.String("job_uuid", j.UUID),
		zap.String("tenant_id", j.TenantID),
		zap.String("system_id", j.SystemID),
	)

	sys, sysErr := p.systems.Resolve(ctx, j.TenantID, j.SystemID)
	if sysErr != nil && errors.Is(sysErr, system.ErrSystemUnknown) {
		msg := fmt.Sprintf("Execution system %s is no longer registered. Job cannot be submitted.", j.SystemID)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
			return Failed, err
		}
		return Failed, nil
	}

	if sys != nil {
		if err := p.quota.Check(ctx, j, sys); err != nil {
			if errors.Is(err, quota.ErrQuotaExceeded) {
				// Submission parks at its own entry state, not PENDING:
				// the staged data is kept and the job simply waits.
				zapLog.Info("submission paused on quota", zap.Error(err))
				msg := fmt.Sprintf("Job paused: %s. Submission will resume once quota frees up.", err.Error())
				if uerr := p.jobs.UpdateStatus(ctx, j, job.StatusStaged, msg); uerr != nil {
					return Paused, uerr
				}
				return Paused, nil
			}
			return Failed, err
		}
	}

	if sysErr != nil {
		// The job already has staged data worth preserving, so the grace
		// window is longer than staging's.
		msg := fmt.Sprintf("Execution system %s is currently unavailable. Submission will retry for up to 30 days.", j.SystemID)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusStaged, msg); err != nil {
			return Paused, err
		}
		return Paused, nil
	}

	deadlineBase := j.Created
	if j.SubmitTime != nil {
		deadlineBase = *j.SubmitTime
	}
	if p.window > 0 && time.Since(deadlineBase) > p.window {
		msg := fmt.Sprintf("Unable to submit job within %d days. Job cancelled.", int(p.window.Hours()/24))
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusKilled, msg); err != nil {
			return Failed, err
		}
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
			return Failed, err
		}
		return Failed, nil
	}

	if sys.IsLocalStorage() && !p.dedicatedLocal {
		return NothingToDo, nil
	}

	if ctl.Stopped() {
		return Paused, nil
	}

	if j.Retries > p.maxRetries {
		msg := fmt.Sprintf("Unable to submit job after %d attempts.", j.Retries)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
			return Failed, err
		}
		return Failed, nil
	}

	j.Retries++
	msg := fmt.Sprintf("Attempt %d to submit job to %s", j.Retries, j.SystemID)
	if err := p.jobs.UpdateStatus(ctx, j, job.StatusSubmitting, msg); err != nil {
		return Failed, err
	}

	act := p.actions(j, sys)
	ctl.Track(act)
	runErr := act.Run(ctx)
	ctl.Track(nil)

	if refreshed := act.Job(); refreshed != nil {
		j = refreshed
	}

	if ctl.Stopped() && j.Status != job.StatusQueued && j.Status != job.StatusRunning {
		j.Retries--
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusStaged, "Submission interrupted. Job returned to the queue."); err != nil {
			return Paused, err
		}
		return Paused, nil
	}

	if runErr != nil {
		if errors.Is(runErr, ErrDependencyMissing) {
			msg := fmt.Sprintf("Unable to submit job: %s", runErr.Error())
			if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
				return Failed, err
			}
			return Failed, nil
		}
		// A failed attempt is re-selected on the next polling cycle.
		zapLog.Warn("submission attempt failed", zap.Int("attempt", j.Retries), zap.Error(runErr))
		msg := fmt.Sprintf("Submission attempt %d failed. The job will be retried.", j.Retries)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusStaged, msg); err != nil {
			return Paused, err
		}
		return Paused, nil
	}

	// Successful hand-off to the remote scheduler.
	target := j.Status
	if target == job.StatusSubmitting {
		target = job.StatusQueued
	}
	j.Status = job.StatusSubmitting
	j.Retries = 0
	if j.SubmitTime == nil {
		now := time.Now().Truncate(time.Second)
		j.SubmitTime = &now
	}
	msg = fmt.Sprintf("Job successfully submitted to %s.", j.SystemID)
	if err := p.jobs.UpdateStatus(ctx, j, target, msg); err != nil {
		return Failed, err
	}
	return Advanced, nil
}

func (p *SubmissionPhase) Rollback(ctx context.Context, j *job.Job) error {
	if j == nil || j.Status.Terminal() || j.Status == job.StatusStaged ||
		j.Status == job.StatusQueued || j.Status == job.StatusRunning {
		return nil
	}
	return p.jobs.UpdateStatus(ctx, j, job.StatusStaged, "Submission attempt rolled back. Job returned to the queue.")
}
