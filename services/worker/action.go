package worker

import (
	"context"
	"errors"

	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"
)

// ErrDependencyMissing marks a failure class that retrying cannot fix, such
// as a referenced application definition that no longer exists. Actions
// wrap their dependency failures with this sentinel so phases fail the job
// on the first occurrence instead of burning the attempt budget.
var ErrDependencyMissing = errors.New("required dependency no longer exists")

// Action performs the remote I/O for one phase attempt: copying input
// files for staging, submitting to the remote scheduler for submission,
// copying outputs for archiving.
type Action interface {
	// Run performs the remote work. It must honor SetStopped and abort
	// in-flight transfers when cancellation is requested.
	Run(ctx context.Context) error
	// Job returns the job after Run, which may have been mutated by the
	// action itself (partial per-file failures, remote status updates).
	Job() *job.Job
	// SetStopped requests cooperative cancellation of in-flight remote I/O.
	SetStopped(stopped bool)
}

// ActionFactory builds the phase action for one attempt. sys may be nil
// for phases that do not resolve an execution system.
type ActionFactory func(j *job.Job, sys *system.System) Action

// Cleaner removes partially staged remote data after the attempt budget is
// exhausted. Cleanup is best effort; failures are logged and ignored.
type Cleaner interface {
	CleanUp(ctx context.Context, j *job.Job) error
}
