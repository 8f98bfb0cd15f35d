package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"hpcjobs-controlplane/pkg/config"
	"hpcjobs-controlplane/services/job"
)

type enqueuerMock struct {
	types []string
	err   error
}

func (m *enqueuerMock) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.types = append(m.types, t.Type())
	return &asynq.TaskInfo{}, nil
}

func newTestDrivers(t *testing.T) *Drivers {
	t.Helper()

	mgr, _ := newTestManager(t)
	cfg := &config.Config{}
	cfg.Worker.MaxSubmissionRetries = 2
	cfg.Worker.StagingWindow = 7 * 24 * time.Hour
	cfg.Worker.SubmissionWindow = 30 * 24 * time.Hour

	return NewDrivers(Params{
		Jobs:              mgr,
		Systems:           &availabilityMock{},
		Quota:             &quotaMock{},
		Config:            cfg,
		StagingActions:    StagingActionFactory(actionsFromFn(nil)),
		SubmissionActions: SubmissionActionFactory(actionsFromFn(nil)),
		ArchiveActions:    ArchiveActionFactory(actionsFromFn(nil)),
	})
}

func TestScheduler_EnqueuesAllPhasePolls(t *testing.T) {
	enq := &enqueuerMock{}
	cfg := &config.Config{}
	cfg.Worker.PollInterval = time.Second

	s := NewScheduler(enq, cfg)
	s.enqueuePolls()

	require.Equal(t, []string{TaskStagingPoll, TaskSubmissionPoll, TaskArchivePoll}, enq.types)
}

func TestHandlers_DelegateToDrivers(t *testing.T) {
	h := NewHandlers(newTestDrivers(t))
	ctx := context.Background()

	require.NoError(t, h.HandleStagingPoll(ctx, asynq.NewTask(TaskStagingPoll, nil)))
	require.NoError(t, h.HandleSubmissionPoll(ctx, asynq.NewTask(TaskSubmissionPoll, nil)))
	require.NoError(t, h.HandleArchivePoll(ctx, asynq.NewTask(TaskArchivePoll, nil)))
}

func TestDrivers_SelectorsAreStatusScoped(t *testing.T) {
	mgr, _ := newTestManager(t)
	j := createJob(t, mgr, nil)

	cfg := &config.Config{}
	cfg.Worker.MaxSubmissionRetries = 2
	cfg.Worker.StagingWindow = 7 * 24 * time.Hour
	cfg.Worker.SubmissionWindow = 30 * 24 * time.Hour

	drivers := NewDrivers(Params{
		Jobs:              mgr,
		Systems:           &availabilityMock{},
		Quota:             &quotaMock{},
		Config:            cfg,
		StagingActions:    StagingActionFactory(actionsFromFn(nil)),
		SubmissionActions: SubmissionActionFactory(actionsFromFn(nil)),
		ArchiveActions:    ArchiveActionFactory(actionsFromFn(nil)),
	})
	ctx := context.Background()

	// The submission and archive drivers have nothing to claim while the
	// job is still PENDING.
	require.NoError(t, drivers.Submission.Execute(ctx))
	require.NoError(t, drivers.Archive.Execute(ctx))
	require.Equal(t, job.StatusPending, reload(t, mgr, j.UUID).Status)

	require.NoError(t, drivers.Staging.Execute(ctx))
	require.Equal(t, job.StatusStaged, reload(t, mgr, j.UUID).Status)
}
