package quota

import (
	"context"
	"errors"
	"fmt"

	"hpcjobs-controlplane/pkg/config"
	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// ErrQuotaExceeded marks a policy pause: the job is not failed, it simply
// waits until capacity frees up.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Check validates that starting work on j would not exceed the owner's or
// the execution system's concurrency quotas.
type Check interface {
	Check(ctx context.Context, j *job.Job, sys *system.System) error
}

// activeStatuses are the states that consume quota capacity.
var activeStatuses = []job.Status{
	job.StatusProcessingInputs,
	job.StatusStagingInputs,
	job.StatusStaged,
	job.StatusSubmitting,
	job.StatusQueued,
	job.StatusRunning,
}

type Checker struct {
	db               *gorm.DB
	maxJobsPerUser   int64
	maxJobsPerSystem int64
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewChecker(p Params) *Checker {
	return &Checker{
		db:               p.DB,
		maxJobsPerUser:   p.Config.Worker.MaxJobsPerUser,
		maxJobsPerSystem: p.Config.Worker.MaxJobsPerSystem,
	}
}

// Check counts active jobs other than the candidate itself: a STAGED job
// being submitted must not block its own submission.
func (c *Checker) Check(ctx context.Context, j *job.Job, sys *system.System) error {
	if c.maxJobsPerUser > 0 {
		var count int64
		err := c.db.WithContext(ctx).Model(&job.Job{}).
			Where("tenant_id = ? AND owner = ? AND visible = ? AND status IN ? AND id <> ?",
				j.TenantID, j.Owner, true, activeStatuses, j.ID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count >= c.maxJobsPerUser {
			return fmt.Errorf("%w: user %s already has %d active jobs", ErrQuotaExceeded, j.Owner, count)
		}
	}

	if c.maxJobsPerSystem > 0 && sys != nil {
		var count int64
		err := c.db.WithContext(ctx).Model(&job.Job{}).
			Where("tenant_id = ? AND system_id = ? AND visible = ? AND status IN ? AND id <> ?",
				j.TenantID, sys.SystemID, true, activeStatuses, j.ID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count >= c.maxJobsPerSystem {
			return fmt.Errorf("%w: system %s already runs %d active jobs", ErrQuotaExceeded, sys.SystemID, count)
		}
	}

	return nil
}

var Module = fx.Module("quota.service",
	fx.Provide(
		func(p Params) Check { return NewChecker(p) },
	),
)
