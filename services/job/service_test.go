package job

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hpcjobs-controlplane/pkg/security"
	"hpcjobs-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestManager(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Job{}, &JobEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewManager(ManagerParams{DB: db, Node: node}), db
}

func createTestJob(t *testing.T, m *Manager) *Job {
	t.Helper()

	j, _, err := m.Create(context.Background(), CreateRequest{
		TenantID:   "tenant-a",
		Owner:      "alice",
		Name:       "wave sim",
		SystemID:   "exec-1",
		MaxRunTime: "12:00:00",
		Inputs:     []byte(`["https://data.example.org/mesh.dat"]`),
	})
	require.NoError(t, err)
	return j
}

func loadJob(t *testing.T, db *gorm.DB, uuid string) *Job {
	t.Helper()

	var j Job
	require.NoError(t, db.Preload("Events").Where("uuid = ?", uuid).First(&j).Error)
	return &j
}

func TestManager_Create(t *testing.T) {
	m, db := newTestManager(t)

	j, token, err := m.Create(context.Background(), CreateRequest{
		TenantID:   "tenant-a",
		Owner:      "alice",
		Name:       "Wave Sim",
		SystemID:   "exec-1",
		MaxRunTime: "12:00:00",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.True(t, strings.HasPrefix(j.UUID, "tenant-a."))
	require.Equal(t, StatusPending, j.Status)
	require.True(t, j.Visible)
	require.Contains(t, j.WorkPath, "alice/job-")
	require.Contains(t, j.WorkPath, "wave-sim")

	// Only the hash is stored; the plain token must still verify against it.
	require.NotEqual(t, token, j.UpdateToken)
	require.True(t, security.VerifyArgon2(token, j.UpdateToken))

	stored := loadJob(t, db, j.UUID)
	require.Len(t, stored.Events, 1)
	require.Equal(t, StatusPending, stored.Events[0].Status)
}

func TestManager_Create_Validation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, _, err := m.Create(ctx, CreateRequest{Owner: "alice"})
	require.Error(t, err)

	_, _, err = m.Create(ctx, CreateRequest{TenantID: "tenant-a"})
	require.Error(t, err)

	_, _, err = m.Create(ctx, CreateRequest{
		TenantID: "tenant-a", Owner: "alice", MaxRunTime: "12:99:00",
	})
	require.Error(t, err)

	_, _, err = m.Create(ctx, CreateRequest{
		TenantID: "tenant-a", Owner: "alice",
		Inputs: []byte(strings.Repeat("x", MaxDocumentLength+1)),
	})
	require.Error(t, err)
}

func TestManager_UpdateStatus(t *testing.T) {
	m, db := newTestManager(t)
	j := createTestJob(t, m)

	err := m.UpdateStatus(context.Background(), j, StatusProcessingInputs, "Attempt 1 to stage job inputs")
	require.NoError(t, err)

	stored := loadJob(t, db, j.UUID)
	require.Equal(t, StatusProcessingInputs, stored.Status)
	require.Equal(t, "Attempt 1 to stage job inputs", stored.LastMessage)
	require.Equal(t, 1, stored.Version)
	require.Len(t, stored.Events, 2)
}

func TestManager_UpdateStatus_RepeatedTransitionIsNoOp(t *testing.T) {
	m, db := newTestManager(t)
	j := createTestJob(t, m)

	require.NoError(t, m.UpdateStatus(context.Background(), j, StatusProcessingInputs, "working"))
	require.NoError(t, m.UpdateStatus(context.Background(), j, StatusProcessingInputs, "working"))

	stored := loadJob(t, db, j.UUID)
	require.Equal(t, 1, stored.Version)
	require.Len(t, stored.Events, 2)
}

func TestManager_UpdateStatus_TerminalJobRejectsTransitions(t *testing.T) {
	m, _ := newTestManager(t)
	j := createTestJob(t, m)

	require.NoError(t, m.UpdateStatus(context.Background(), j, StatusFailed, "gave up"))

	err := m.UpdateStatus(context.Background(), j, StatusPending, "try again")
	require.ErrorIs(t, err, ErrTerminalState)
}

func TestManager_UpdateStatus_KilledRecordsFinalFailure(t *testing.T) {
	m, db := newTestManager(t)
	j := createTestJob(t, m)
	ctx := context.Background()

	// Deadline expiry cancels the job and then records the failure as two
	// sequential events.
	msg := "Unable to stage job inputs within 7 days of submission. Job cancelled."
	require.NoError(t, m.UpdateStatus(ctx, j, StatusKilled, msg))
	require.NoError(t, m.UpdateStatus(ctx, j, StatusFailed, msg))

	stored := loadJob(t, db, j.UUID)
	require.Equal(t, StatusFailed, stored.Status)
	require.Len(t, stored.Events, 3)
	require.Equal(t, StatusKilled, stored.Events[1].Status)
	require.Equal(t, StatusFailed, stored.Events[2].Status)

	// FAILED stays final; the exception runs in one direction only.
	require.ErrorIs(t, m.UpdateStatus(ctx, j, StatusKilled, "again"), ErrTerminalState)
	require.ErrorIs(t, m.UpdateStatus(ctx, j, StatusPending, "revive"), ErrTerminalState)
}

func TestManager_UpdateStatus_EventFailureRollsBackStatus(t *testing.T) {
	m, db := newTestManager(t)
	j := createTestJob(t, m)

	// With the event table gone the append fails, and the status write must
	// roll back with it.
	require.NoError(t, db.Migrator().DropTable(&JobEvent{}))

	err := m.UpdateStatus(context.Background(), j, StatusProcessingInputs, "Attempt 1 to stage job inputs")
	require.Error(t, err)

	var stored Job
	require.NoError(t, db.Where("uuid = ?", j.UUID).First(&stored).Error)
	require.Equal(t, StatusPending, stored.Status)
	require.Equal(t, 0, stored.Version)
	require.Equal(t, 0, j.Version)
}

func TestManager_UpdateStatus_DeletedJobOnlyRecordsEvent(t *testing.T) {
	m, db := newTestManager(t)
	j := createTestJob(t, m)

	j.Visible = false
	require.NoError(t, m.Persist(context.Background(), j))

	require.NoError(t, m.UpdateStatus(context.Background(), j, StatusRunning, "Job started running"))

	var stored Job
	require.NoError(t, db.Where("uuid = ?", j.UUID).First(&stored).Error)
	require.Equal(t, StatusPending, stored.Status)

	var events []JobEvent
	require.NoError(t, db.Where("job_id = ?", j.ID).Order("id ASC").Find(&events).Error)
	require.Len(t, events, 2)
	require.Equal(t, StatusRunning, events[1].Status)
	require.Contains(t, events[1].Description, "deleted job")
}

func TestManager_Persist_StaleVersionLosesRace(t *testing.T) {
	m, _ := newTestManager(t)
	j := createTestJob(t, m)
	ctx := context.Background()

	first, err := m.Repo().Load(ctx, "", j.UUID)
	require.NoError(t, err)
	second, err := m.Repo().Load(ctx, "", j.UUID)
	require.NoError(t, err)

	first.Retries = 1
	require.NoError(t, m.Persist(ctx, first))

	second.Retries = 2
	require.ErrorIs(t, m.Persist(ctx, second), ErrStaleVersion)
}

func TestValidRunTime(t *testing.T) {
	require.True(t, ValidRunTime("0:00:30"))
	require.True(t, ValidRunTime("48:00:00"))
	require.False(t, ValidRunTime("12:60:00"))
	require.False(t, ValidRunTime("12:00"))
	require.False(t, ValidRunTime("forever"))
}

func TestJob_HasInputs(t *testing.T) {
	j := &Job{}
	require.False(t, j.HasInputs())

	j.Inputs = []byte(`[]`)
	require.False(t, j.HasInputs())

	j.Inputs = []byte(`["https://data.example.org/a.dat"]`)
	require.True(t, j.HasInputs())

	j.Inputs = []byte(`{"mesh": "https://data.example.org/a.dat"}`)
	require.True(t, j.HasInputs())
}

func TestJob_Attribute(t *testing.T) {
	j := &Job{
		UUID:      "tenant-a.abc",
		Owner:     "alice",
		NodeCount: 4,
		Status:    StatusQueued,
	}

	v, err := j.Attribute(FieldUUID)
	require.NoError(t, err)
	require.Equal(t, "tenant-a.abc", v)

	v, err = j.Attribute(FieldNodeCount)
	require.NoError(t, err)
	require.Equal(t, "4", v)

	v, err = j.Attribute(FieldStatus)
	require.NoError(t, err)
	require.Equal(t, "QUEUED", v)

	_, err = j.Attribute(Field(999))
	require.Error(t, err)
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusFinished, StatusFailed, StatusKilled} {
		require.True(t, s.Terminal())
	}
	for _, s := range []Status{StatusPending, StatusStaged, StatusQueued, StatusRunning, StatusArchiving} {
		require.False(t, s.Terminal())
	}
}

func TestManager_Persist_BumpsLastUpdated(t *testing.T) {
	m, db := newTestManager(t)
	j := createTestJob(t, m)

	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	j.LastUpdated = past
	require.NoError(t, m.Persist(context.Background(), j))

	stored := loadJob(t, db, j.UUID)
	require.True(t, stored.LastUpdated.After(past))
}
