package worker

import (
	"context"
	"time"

	"hpcjobs-controlplane/pkg/config"
	"hpcjobs-controlplane/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Task types the external trigger enqueues. Each delivery runs one
// claim-attempt cycle of the matching phase.
const (
	TaskStagingPoll    = "jobs:staging:poll"
	TaskSubmissionPoll = "jobs:submission:poll"
	TaskArchivePoll    = "jobs:archive:poll"
)

type Handlers struct {
	drivers *Drivers
}

func NewHandlers(drivers *Drivers) *Handlers {
	return &Handlers{drivers: drivers}
}

func (h *Handlers) HandleStagingPoll(ctx context.Context, t *asynq.Task) error {
	return h.drivers.Staging.Execute(ctx)
}

func (h *Handlers) HandleSubmissionPoll(ctx context.Context, t *asynq.Task) error {
	return h.drivers.Submission.Execute(ctx)
}

func (h *Handlers) HandleArchivePoll(ctx context.Context, t *asynq.Task) error {
	return h.drivers.Archive.Execute(ctx)
}

func RegisterHandlers(mux *asynq.ServeMux, h *Handlers) {
	mux.HandleFunc(TaskStagingPoll, h.HandleStagingPoll)
	mux.HandleFunc(TaskSubmissionPoll, h.HandleSubmissionPoll)
	mux.HandleFunc(TaskArchivePoll, h.HandleArchivePoll)
}

// Scheduler enqueues the periodic poll tasks that drive the phase workers.
type Scheduler struct {
	enqueuer task.Enqueuer
	interval time.Duration
}

func NewScheduler(enqueuer task.Enqueuer, cfg *config.Config) *Scheduler {
	return &Scheduler{enqueuer: enqueuer, interval: cfg.Worker.PollInterval}
}

// StartScheduler runs the polling loop for the lifetime of the process.
func StartScheduler(lc fx.Lifecycle, s *Scheduler, drivers *Drivers) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			drivers.Staging.Interrupt(stopCtx)
			drivers.Submission.Interrupt(stopCtx)
			drivers.Archive.Interrupt(stopCtx)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started job phase scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueuePolls()
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueuePolls() {
	polls := []struct {
		taskType string
		queue    string
	}{
		{TaskStagingPoll, task.QueueStaging},
		{TaskSubmissionPoll, task.QueueSubmission},
		{TaskArchivePoll, task.QueueArchive},
	}

	for _, p := range polls {
		if _, err := s.enqueuer.Enqueue(asynq.NewTask(p.taskType, nil), asynq.Queue(p.queue)); err != nil {
			zap.L().Error("[Scheduler] failed to enqueue poll task",
				zap.String("task_type", p.taskType),
				zap.Error(err),
			)
		}
	}
}
