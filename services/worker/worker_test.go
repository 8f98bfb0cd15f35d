package worker

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"
	"hpcjobs-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestManager(t *testing.T) (*job.Manager, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &job.Job{}, &job.JobEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return job.NewManager(job.ManagerParams{DB: db, Node: node}), db
}

func createJob(t *testing.T, mgr *job.Manager, inputs []byte) *job.Job {
	t.Helper()

	j, _, err := mgr.Create(context.Background(), job.CreateRequest{
		TenantID: "tenant-a",
		Owner:    "alice",
		Name:     "wave sim",
		SystemID: "exec-1",
		Inputs:   inputs,
	})
	require.NoError(t, err)
	return j
}

func reload(t *testing.T, mgr *job.Manager, uuid string) *job.Job {
	t.Helper()

	j, err := mgr.Repo().Load(context.Background(), "", uuid)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func availableSystem() *system.System {
	return &system.System{
		ID:              1,
		SystemID:        "exec-1",
		TenantID:        "tenant-a",
		Status:          system.Up,
		Available:       true,
		StorageProtocol: "SFTP",
	}
}

type availabilityMock struct {
	resolveFn func(ctx context.Context, tenantID, systemID string) (*system.System, error)
}

func (m *availabilityMock) Resolve(ctx context.Context, tenantID, systemID string) (*system.System, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, tenantID, systemID)
	}
	return availableSystem(), nil
}

type quotaMock struct {
	checkFn func(ctx context.Context, j *job.Job, sys *system.System) error
}

func (m *quotaMock) Check(ctx context.Context, j *job.Job, sys *system.System) error {
	if m.checkFn != nil {
		return m.checkFn(ctx, j, sys)
	}
	return nil
}

type actionMock struct {
	runFn   func(ctx context.Context, j *job.Job) error
	j       *job.Job
	stopped bool
}

func (m *actionMock) Run(ctx context.Context) error {
	if m.runFn != nil {
		return m.runFn(ctx, m.j)
	}
	return nil
}

func (m *actionMock) Job() *job.Job           { return m.j }
func (m *actionMock) SetStopped(stopped bool) { m.stopped = stopped }

func actionsFromFn(fn func(ctx context.Context, j *job.Job) error) ActionFactory {
	return func(j *job.Job, sys *system.System) Action {
		return &actionMock{runFn: fn, j: j}
	}
}

type cleanerMock struct {
	cleaned []string
	err     error
}

func (m *cleanerMock) CleanUp(ctx context.Context, j *job.Job) error {
	m.cleaned = append(m.cleaned, j.UUID)
	return m.err
}

type ctlMock struct {
	stoppedFn func() bool
	tracked   []Action
}

func (c *ctlMock) Stopped() bool {
	if c.stoppedFn != nil {
		return c.stoppedFn()
	}
	return false
}

func (c *ctlMock) Track(act Action) {
	c.tracked = append(c.tracked, act)
}
