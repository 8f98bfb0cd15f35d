package worker

import (
	"hpcjobs-controlplane/pkg/config"
	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/quota"
	"hpcjobs-controlplane/services/system"

	"go.uber.org/fx"
)

// Per-phase factory types so fx can tell the action wirings apart.
type (
	StagingActionFactory    ActionFactory
	SubmissionActionFactory ActionFactory
	ArchiveActionFactory    ActionFactory
)

// Drivers bundles the phase drivers for the trigger surface.
type Drivers struct {
	Staging    *Driver
	Submission *Driver
	Archive    *Driver
}

type Params struct {
	fx.In
	Jobs              *job.Manager
	Systems           system.AvailabilityCheck
	Quota             quota.Check
	Config            *config.Config
	StagingActions    StagingActionFactory
	SubmissionActions SubmissionActionFactory
	ArchiveActions    ArchiveActionFactory
	Cleaner           Cleaner `optional:"true"`
}

func NewDrivers(p Params) *Drivers {
	w := p.Config.Worker
	filter := job.ClaimFilter{
		TenantID: w.TenantID,
		Username: w.Username,
		SystemID: w.SystemID,
	}
	registry := NewRegistry()
	repo := p.Jobs.Repo()

	staging := NewStagingPhase(p.Jobs, p.Systems, p.Quota,
		ActionFactory(p.StagingActions), p.Cleaner,
		w.MaxSubmissionRetries, w.StagingWindow, w.DedicatedLocal)
	submission := NewSubmissionPhase(p.Jobs, p.Systems, p.Quota,
		ActionFactory(p.SubmissionActions),
		w.MaxSubmissionRetries, w.SubmissionWindow, w.DedicatedLocal)
	archive := NewArchivePhase(p.Jobs, ActionFactory(p.ArchiveActions), w.MaxSubmissionRetries)

	return &Drivers{
		Staging: NewDriver(staging, p.Jobs,
			NewClaimSelector(repo, staging.SourceStatus(), filter), registry, w.AllowFailure),
		Submission: NewDriver(submission, p.Jobs,
			NewClaimSelector(repo, submission.SourceStatus(), filter), registry, w.AllowFailure),
		Archive: NewDriver(archive, p.Jobs,
			NewClaimSelector(repo, archive.SourceStatus(), filter), registry, w.AllowFailure),
	}
}

var Module = fx.Module("worker.service",
	fx.Provide(
		NewDrivers,
		NewHandlers,
		NewScheduler,
	),
	fx.Invoke(RegisterHandlers, StartScheduler),
)
