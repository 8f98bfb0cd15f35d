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

// StagingPhase copies a job's declared inputs onto the execution system,
// moving PENDING jobs to STAGED. Gatekeeping runs in a fixed order before
// any remote I/O: quota, system availability, the staging deadline, and
// the local-system pass-through.
type StagingPhase struct {
	jobs    *job.Manager
	systems system.AvailabilityCheck
	quota   quota.Check
	actions ActionFactory
	cleaner Cleaner

	// maxRetries is the retry budget; one job gets maxRetries+1 attempts
	// in total before it is failed.
	maxRetries     int
	window         time.Duration
	dedicatedLocal bool
}

func NewStagingPhase(jobs *job.Manager, systems system.AvailabilityCheck, qc quota.Check,
	actions ActionFactory, cleaner Cleaner, maxRetries int, window time.Duration, dedicatedLocal bool) *StagingPhase {
	return &StagingPhase{
		jobs:           jobs,
		systems:        systems,
		quota:          qc,
		actions:        actions,
		cleaner:        cleaner,
		maxRetries:     maxRetries,
		window:         window,
		dedicatedLocal: dedicatedLocal,
	}
}

func (p *StagingPhase) Name() string             { return "staging" }
func (p *StagingPhase) SourceStatus() job.Status { return job.StatusPending }

func (p *StagingPhase) Process(ctx context.Context, ctl Control, j *job.Job) (Outcome, error) {
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
		// A missing system can never self-heal.
		msg := fmt.Sprintf("Execution system %s is no longer registered. Job cannot run.", j.SystemID)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
			return Failed, err
		}
		return Failed, nil
	}

	if sys != nil {
		if err := p.quota.Check(ctx, j, sys); err != nil {
			if errors.Is(err, quota.ErrQuotaExceeded) {
				zapLog.Info("staging paused on quota", zap.Error(err))
				msg := fmt.Sprintf("Job paused: %s. Staging will resume once quota frees up.", err.Error())
				if uerr := p.jobs.UpdateStatus(ctx, j, job.StatusPending, msg); uerr != nil {
					return Paused, uerr
				}
				return Paused, nil
			}
			return Failed, err
		}
	}

	if sysErr != nil {
		// Exists but unavailable: park the job, it has a 7 day window.
		msg := fmt.Sprintf("Execution system %s is currently unavailable. Staging will retry for up to 7 days.", j.SystemID)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusPending, msg); err != nil {
			return Paused, err
		}
		return Paused, nil
	}

	if p.window > 0 && time.Since(j.Created) > p.window {
		msg := fmt.Sprintf("Unable to stage job inputs within %d days of submission. Job cancelled.", int(p.window.Hours()/24))
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusKilled, msg); err != nil {
			return Failed, err
		}
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
			return Failed, err
		}
		return Failed, nil
	}

	if sys.IsLocalStorage() && !p.dedicatedLocal {
		// A dedicated worker instance handles local systems.
		return NothingToDo, nil
	}

	if !j.HasInputs() {
		j.Retries = 0
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusStaged, "Skipping staging. No input data associated with this job."); err != nil {
			return Failed, err
		}
		return Advanced, nil
	}

	for j.Retries <= p.maxRetries {
		if ctl.Stopped() {
			return p.pauseInterrupted(ctx, j)
		}

		j.Retries++
		msg := fmt.Sprintf("Attempt %d to stage job inputs", j.Retries)
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusProcessingInputs, msg); err != nil {
			return Failed, err
		}
		if err := p.jobs.UpdateStatus(ctx, j, job.StatusStagingInputs, "Copying input data to execution system"); err != nil {
			return Failed, err
		}

		act := p.actions(j, sys)
		ctl.Track(act)
		runErr := act.Run(ctx)
		ctl.Track(nil)

		// The action may have mutated the job (partial per-file failures,
		// status updates); continue from its view of the record.
		if refreshed := act.Job(); refreshed != nil {
			j = refreshed
		}

		if ctl.Stopped() && j.Status != job.StatusStaged {
			// The attempt was aborted, not failed; give the budget back.
			j.Retries--
			return p.pauseInterrupted(ctx, j)
		}

		if runErr != nil {
			if errors.Is(runErr, ErrDependencyMissing) {
				msg := fmt.Sprintf("Unable to stage job inputs: %s", runErr.Error())
				if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
					return Failed, err
				}
				return Failed, nil
			}
			zapLog.Warn("staging attempt failed", zap.Int("attempt", j.Retries), zap.Error(runErr))
			continue
		}

		j.Retries = 0
		if j.Status != job.StatusStaged {
			if err := p.jobs.UpdateStatus(ctx, j, job.StatusStaged, "Job inputs staged to execution system."); err != nil {
				return Failed, err
			}
		} else if err := p.jobs.Persist(ctx, j); err != nil {
			return Failed, err
		}
		return Advanced, nil
	}

	// Budget exhausted: clean up whatever landed in the work directory,
	// then fail the job.
	if p.cleaner != nil {
		if err := p.cleaner.CleanUp(ctx, j); err != nil {
			zapLog.Warn("failed to clean up staged data", zap.String("work_path", j.WorkPath), zap.Error(err))
		}
	}
	msg := fmt.Sprintf("Unable to stage job inputs after %d attempts.", j.Retries)
	if err := p.jobs.UpdateStatus(ctx, j, job.StatusFailed, msg); err != nil {
		return Failed, err
	}
	return Failed, nil
}

// pauseInterrupted aborts the current attempt without consuming budget and
// returns the job to the claim queue.
func (p *StagingPhase) pauseInterrupted(ctx context.Context, j *job.Job) (Outcome, error) {
	if err := p.jobs.UpdateStatus(ctx, j, job.StatusPending, "Staging interrupted. Job returned to the queue."); err != nil {
		return Paused, err
	}
	return Paused, nil
}

func (p *StagingPhase) Rollback(ctx context.Context, j *job.Job) error {
	if j == nil || j.Status.Terminal() || j.Status == job.StatusStaged || j.Status == job.StatusPending {
		return nil
	}
	return p.jobs.UpdateStatus(ctx, j, job.StatusPending, "Staging attempt rolled back. Job returned to the queue.")
}
