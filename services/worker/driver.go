package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"hpcjobs-controlplane/pkg/tenantctx"
	"hpcjobs-controlplane/services/job"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var claimConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "worker_claim_conflicts_total"},
	[]string{"phase"},
)

// ClaimSelector returns the uuid of one job eligible for this worker, or ""
// when nothing is claimable. Concurrent callers may race for the same job;
// the write-time version check decides the winner.
type ClaimSelector interface {
	SelectNext(ctx context.Context) (string, error)
}

// Control is handed to phase logic so it can observe cancellation and
// expose its in-flight action for interrupt propagation.
type Control interface {
	Stopped() bool
	Track(act Action)
}

// Phase is the phase-specific half of the execution template: gatekeeping,
// remote action, and status transitions for one lifecycle step.
type Phase interface {
	Name() string
	SourceStatus() job.Status
	Process(ctx context.Context, ctl Control, j *job.Job) (Outcome, error)
	// Rollback returns the job to its pre-phase status after an interrupt.
	// It must tolerate the job having already reached a terminal or
	// next-phase state, in which case it is a no-op.
	Rollback(ctx context.Context, j *job.Job) error
}

// Registry guards against the same process claiming one job twice. The
// cross-process guarantee comes from the version counter, not from here.
type Registry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

func (r *Registry) Claim(uuid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.ids[uuid]; held {
		return false
	}
	r.ids[uuid] = struct{}{}
	return true
}

func (r *Registry) Release(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, uuid)
}

// Driver is the claim-execute-release template shared by all phase
// workers. Each Execute call is one short-lived, single-job unit of work.
type Driver struct {
	phase        Phase
	jobs         *job.Manager
	repo         job.Repository
	selector     ClaimSelector
	inflight     *Registry
	allowFailure bool

	stopped atomic.Bool
	done    atomic.Bool

	mu      sync.Mutex
	current *job.Job
	action  Action
}

func NewDriver(phase Phase, jobs *job.Manager, selector ClaimSelector, inflight *Registry, allowFailure bool) *Driver {
	d := &Driver{
		phase:        phase,
		jobs:         jobs,
		repo:         jobs.Repo(),
		selector:     selector,
		inflight:     inflight,
		allowFailure: allowFailure,
	}
	d.done.Store(true)
	return d
}

// Stopped reports whether an external interrupt was requested.
func (d *Driver) Stopped() bool {
	return d.stopped.Load()
}

// Track records the phase's in-flight action so Interrupt can cancel it.
func (d *Driver) Track(act Action) {
	d.mu.Lock()
	d.action = act
	d.mu.Unlock()
}

// Done reports whether the driver is between invocations. The trigger polls
// this before reusing the worker instance.
func (d *Driver) Done() bool {
	return d.done.Load()
}

// Execute runs one claim-attempt cycle: select a job, bind tenant context,
// run the phase, and release on every exit path.
func (d *Driver) Execute(ctx context.Context) (err error) {
	d.done.Store(false)
	defer d.done.Store(true)

	if d.stopped.Load() {
		return nil
	}

	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("phase", d.phase.Name()),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	uuid, err := d.selector.SelectNext(ctx)
	if err != nil {
		zapLog.Error("failed to select next job", zap.Error(err))
		if d.allowFailure {
			return err
		}
		return nil
	}
	if uuid == "" {
		return nil
	}

	if !d.inflight.Claim(uuid) {
		// Another invocation in this process already holds the job.
		return nil
	}

	defer func() {
		d.inflight.Release(uuid)
		d.mu.Lock()
		d.current = nil
		d.action = nil
		d.mu.Unlock()

		if r := recover(); r != nil {
			zapLog.Error("phase worker panicked",
				zap.String("job_uuid", uuid),
				zap.Any("panic", r),
			)
			if d.allowFailure {
				err = fmt.Errorf("phase %s panicked on job %s: %v", d.phase.Name(), uuid, r)
			} else {
				err = nil
			}
		}
	}()

	jb, err := d.repo.Load(ctx, "", uuid)
	if err != nil {
		zapLog.Error("failed to load claimed job", zap.String("job_uuid", uuid), zap.Error(err))
		if d.allowFailure {
			return err
		}
		return nil
	}
	if jb == nil {
		return nil
	}

	// All downstream authorization and lookups act as the job's tenant and
	// owner, never as whatever this goroutine did last.
	ctx = tenantctx.With(ctx, jb.TenantID, jb.Owner)
	zapLog = zapLog.With(
		zap.String("job_uuid", jb.UUID),
		zap.String("tenant_id", jb.TenantID),
		zap.String("owner", jb.Owner),
	)

	d.mu.Lock()
	d.current = jb
	d.mu.Unlock()

	outcome, perr := d.phase.Process(ctx, d, jb)
	switch {
	case perr == nil:
		zapLog.Info("phase completed", zap.String("outcome", outcome.String()))
		return nil
	case isConflict(perr):
		// Routine contention: another worker claimed the job after we
		// loaded it. The winner's writes stand.
		claimConflicts.WithLabelValues(d.phase.Name()).Inc()
		zapLog.Debug("lost claim race, abandoning attempt", zap.Error(perr))
		return nil
	default:
		zapLog.Error("phase failed unexpectedly", zap.String("outcome", outcome.String()), zap.Error(perr))
		if d.allowFailure {
			return perr
		}
		return nil
	}
}

// Interrupt requests cancellation: the stop flag is raised, any in-flight
// action is asked to abort its remote transfers, and the phase rollback
// returns the current job to its pre-phase status.
func (d *Driver) Interrupt(ctx context.Context) {
	d.stopped.Store(true)

	d.mu.Lock()
	act, jb := d.action, d.current
	d.mu.Unlock()

	if act != nil {
		act.SetStopped(true)
	}
	if jb == nil {
		return
	}

	if err := d.phase.Rollback(ctx, jb); err != nil {
		if isConflict(err) {
			zap.L().Debug("rollback lost to a concurrent writer",
				zap.String("phase", d.phase.Name()),
				zap.String("job_uuid", jb.UUID),
			)
			return
		}
		zap.L().Warn("failed to roll back interrupted job",
			zap.String("phase", d.phase.Name()),
			zap.String("job_uuid", jb.UUID),
			zap.Error(err),
		)
	}
}
