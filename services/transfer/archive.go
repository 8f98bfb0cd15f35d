package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"hpcjobs-controlplane/pkg/objectstore"
	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"
	"hpcjobs-controlplane/services/worker"
)

// archiveManifest records what was archived and where the live output came
// from. The output objects themselves are copied by the execution system
// agent; the manifest makes the archive self-describing.
type archiveManifest struct {
	UUID        string     `json:"uuid"`
	TenantID    string     `json:"tenantId"`
	Owner       string     `json:"owner"`
	Name        string     `json:"name"`
	SystemID    string     `json:"systemId"`
	WorkPath    string     `json:"workPath"`
	OutputPath  string     `json:"outputPath"`
	SubmitTime  *time.Time `json:"submitTime,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	ArchivedAt  time.Time  `json:"archivedAt"`
	LastMessage string     `json:"lastMessage,omitempty"`
}

type archiveAction struct {
	job      *job.Job
	archiver objectstore.Archiver
	stopped  atomic.Bool
}

func newArchiveAction(archiver objectstore.Archiver) worker.ActionFactory {
	return func(j *job.Job, sys *system.System) worker.Action {
		return &archiveAction{job: j, archiver: archiver}
	}
}

func (a *archiveAction) Job() *job.Job           { return a.job }
func (a *archiveAction) SetStopped(stopped bool) { a.stopped.Store(stopped) }

func (a *archiveAction) Run(ctx context.Context) error {
	if a.job.ArchivePath == "" {
		return fmt.Errorf("%w: job has no archive path", worker.ErrDependencyMissing)
	}
	if a.stopped.Load() {
		return nil
	}

	m := archiveManifest{
		UUID:        a.job.UUID,
		TenantID:    a.job.TenantID,
		Owner:       a.job.Owner,
		Name:        a.job.Name,
		SystemID:    a.job.SystemID,
		WorkPath:    a.job.WorkPath,
		OutputPath:  a.job.OutputPath,
		SubmitTime:  a.job.SubmitTime,
		StartTime:   a.job.StartTime,
		EndTime:     a.job.EndTime,
		ArchivedAt:  time.Now().Truncate(time.Second),
		LastMessage: a.job.LastMessage,
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode archive manifest: %w", err)
	}

	if err := a.archiver.Put(ctx, a.job.ArchivePath, "job.json", bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("failed to write archive manifest: %w", err)
	}
	return nil
}
