package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync/atomic"

	"hpcjobs-controlplane/pkg/objectstore"
	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"
	"hpcjobs-controlplane/services/worker"
)

// submitManifest is the hand-off record written to the execution system's
// inbox prefix. The scheduler agent on the system side watches the prefix,
// launches the job, and reports status back through the trigger surface.
type submitManifest struct {
	UUID              string          `json:"uuid"`
	TenantID          string          `json:"tenantId"`
	Owner             string          `json:"owner"`
	Name              string          `json:"name"`
	BatchQueue        string          `json:"batchQueue"`
	NodeCount         int64           `json:"nodeCount"`
	ProcessorsPerNode int64           `json:"processorsPerNode"`
	MemoryPerNode     float64         `json:"memoryPerNode"`
	MaxRunTime        string          `json:"maxRunTime"`
	WorkPath          string          `json:"workPath"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
}

type submissionAction struct {
	job      *job.Job
	sys      *system.System
	archiver objectstore.Archiver
	stopped  atomic.Bool
}

func newSubmissionAction(archiver objectstore.Archiver) worker.ActionFactory {
	return func(j *job.Job, sys *system.System) worker.Action {
		return &submissionAction{job: j, sys: sys, archiver: archiver}
	}
}

func (a *submissionAction) Job() *job.Job           { return a.job }
func (a *submissionAction) SetStopped(stopped bool) { a.stopped.Store(stopped) }

func (a *submissionAction) Run(ctx context.Context) error {
	if a.sys == nil {
		return fmt.Errorf("%w: execution system record is missing", worker.ErrDependencyMissing)
	}
	if a.stopped.Load() {
		return nil
	}

	m := submitManifest{
		UUID:              a.job.UUID,
		TenantID:          a.job.TenantID,
		Owner:             a.job.Owner,
		Name:              a.job.Name,
		BatchQueue:        a.job.BatchQueue,
		NodeCount:         a.job.NodeCount,
		ProcessorsPerNode: a.job.ProcessorsPerNode,
		MemoryPerNode:     a.job.MemoryPerNode,
		MaxRunTime:        a.job.MaxRunTime,
		WorkPath:          a.job.WorkPath,
		Parameters:        json.RawMessage(a.job.Parameters),
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode submit manifest: %w", err)
	}

	inbox := path.Join("inbox", a.sys.SystemID)
	name := fmt.Sprintf("job-%s.json", a.job.UUID)
	if err := a.archiver.Put(ctx, inbox, name, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("failed to submit job to %s: %w", a.sys.SystemID, err)
	}
	return nil
}
