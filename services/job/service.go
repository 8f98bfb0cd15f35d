package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hpcjobs-controlplane/pkg/security"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrTerminalState is returned when a transition is requested on a job that
// already reached FINISHED, FAILED or KILLED. Workers treat this as
// "nothing to do" rather than an error.
var ErrTerminalState = errors.New("job is in a terminal state")

// deletedSuffix is appended to event descriptions recorded against a job
// whose visible flag has been cleared.
const deletedSuffix = " Status change recorded against a deleted job; the job itself was left unchanged."

type Manager struct {
	db   *gorm.DB
	node *snowflake.Node
	repo Repository
}

type ManagerParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		db:   p.DB,
		node: p.Node,
		repo: NewRepository(p.DB),
	}
}

// Repo exposes the manager's repository for claim selectors.
func (m *Manager) Repo() Repository {
	return m.repo
}

// CreateRequest captures everything a job submission provides. ExecutionType
// and SchedulerType come from the execution system as configured right now;
// they are frozen onto the job record.
type CreateRequest struct {
	TenantID          string
	Owner             string
	InternalUsername  string
	Name              string
	SystemID          string
	BatchQueue        string
	NodeCount         int64
	ProcessorsPerNode int64
	MemoryPerNode     float64
	MaxRunTime        string
	ExecutionType     string
	SchedulerType     string
	Inputs            []byte
	Parameters        []byte
	ArchiveOutput     bool
	ArchivePath       string
	ArchiveSystem     string
}

// Create validates the request and persists a new PENDING job. The plain
// update token is returned exactly once; only its hash is stored.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Job, string, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", req.TenantID),
		zap.String("owner", req.Owner),
	)

	if req.TenantID == "" || req.Owner == "" {
		return nil, "", fmt.Errorf("tenant and owner are required")
	}
	if req.MaxRunTime != "" && !ValidRunTime(req.MaxRunTime) {
		return nil, "", fmt.Errorf("invalid max run time %q, expected HH:MM:SS", req.MaxRunTime)
	}
	if len(req.Inputs) > MaxDocumentLength {
		return nil, "", fmt.Errorf("inputs document exceeds %d characters", MaxDocumentLength)
	}
	if len(req.Parameters) > MaxDocumentLength {
		return nil, "", fmt.Errorf("parameters document exceeds %d characters", MaxDocumentLength)
	}

	token, err := security.GenerateBase64Secret(32)
	if err != nil {
		return nil, "", err
	}
	tokenHash, err := security.HashArgon2(token)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().Truncate(time.Second)
	id := m.node.Generate().Int64()
	jobUUID := fmt.Sprintf("%s.%s", req.TenantID, uuid.NewString())

	j := &Job{
		ID:                id,
		UUID:              jobUUID,
		TenantID:          req.TenantID,
		Owner:             req.Owner,
		InternalUsername:  req.InternalUsername,
		Name:              req.Name,
		SystemID:          req.SystemID,
		BatchQueue:        req.BatchQueue,
		NodeCount:         req.NodeCount,
		ProcessorsPerNode: req.ProcessorsPerNode,
		MemoryPerNode:     req.MemoryPerNode,
		MaxRunTime:        req.MaxRunTime,
		ExecutionType:     req.ExecutionType,
		SchedulerType:     req.SchedulerType,
		Status:            StatusPending,
		LastMessage:       "Job accepted and queued for input staging.",
		UpdateToken:       tokenHash,
		Inputs:            req.Inputs,
		Parameters:        req.Parameters,
		WorkPath:          fmt.Sprintf("%s/job-%d-%s", req.Owner, id, slug.Make(req.Name)),
		ArchiveOutput:     req.ArchiveOutput,
		ArchivePath:       req.ArchivePath,
		ArchiveSystem:     req.ArchiveSystem,
		Created:           now,
		LastUpdated:       now,
		Visible:           true,
	}

	if err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(j).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		ev := &JobEvent{
			ID:          m.node.Generate().Int64(),
			JobID:       j.ID,
			Status:      StatusPending,
			Description: j.LastMessage,
			CreatedBy:   j.Owner,
			Created:     now,
		}
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("failed to record job event: %w", err)
		}
		return nil
	}); err != nil {
		zapLog.Error("failed to create job", zap.Error(err))
		return nil, "", err
	}

	zapLog.Info("job created", zap.String("job_uuid", j.UUID), zap.String("system_id", j.SystemID))
	return j, token, nil
}

// UpdateStatus moves j to the given status with message and appends the
// matching event, as one logical operation.
//
// Semantics, in order:
//   - repeating the current (status, message) pair is a no-op: no event,
//     no lastUpdated change;
//   - a job with visible=false only records the event, suffixed with a
//     deletion notice, and keeps its status and message untouched;
//   - a terminal job accepts no further transitions (ErrTerminalState),
//     with one exception: KILLED may still record the FAILED outcome of a
//     cancelled phase, as deadline expiry does;
//   - otherwise the job row is written with the optimistic version check
//     and the event appended. ErrStaleVersion propagates to the caller.
func (m *Manager) UpdateStatus(ctx context.Context, j *Job, status Status, message string) error {
	if j.Status == status && j.LastMessage == message {
		return nil
	}

	now := time.Now().Truncate(time.Second)
	ev := &JobEvent{
		ID:          m.node.Generate().Int64(),
		JobID:       j.ID,
		Status:      status,
		Description: message,
		CreatedBy:   j.Owner,
		Created:     now,
	}

	if !j.Visible {
		ev.Description = message + deletedSuffix
		return m.repo.AppendEvent(ctx, ev)
	}

	if j.Status.Terminal() && !(j.Status == StatusKilled && status == StatusFailed) {
		return ErrTerminalState
	}

	j.Status = status
	j.LastMessage = message
	j.LastUpdated = now

	prev := j.Version
	if err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		if err := repo.Persist(ctx, j); err != nil {
			return err
		}
		return repo.AppendEvent(ctx, ev)
	}); err != nil {
		// Keep the in-memory counter in step with the rolled back row.
		j.Version = prev
		return err
	}
	return nil
}

// Persist writes the job's mutable fields without a status transition,
// bumping lastUpdated and honoring the version check.
func (m *Manager) Persist(ctx context.Context, j *Job) error {
	j.LastUpdated = time.Now().Truncate(time.Second)
	return m.repo.Persist(ctx, j)
}
