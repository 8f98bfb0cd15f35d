package transfer

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"hpcjobs-controlplane/pkg/objectstore"
	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"
	"hpcjobs-controlplane/services/worker"

	"go.uber.org/zap"
)

// stagingAction fetches each declared input and writes it under the job's
// work path in the object store, where the execution system picks it up.
type stagingAction struct {
	job      *job.Job
	sys      *system.System
	archiver objectstore.Archiver
	client   *http.Client
	stopped  atomic.Bool
}

func newStagingAction(archiver objectstore.Archiver, client *http.Client) worker.ActionFactory {
	return func(j *job.Job, sys *system.System) worker.Action {
		return &stagingAction{job: j, sys: sys, archiver: archiver, client: client}
	}
}

func (a *stagingAction) Job() *job.Job           { return a.job }
func (a *stagingAction) SetStopped(stopped bool) { a.stopped.Store(stopped) }

func (a *stagingAction) Run(ctx context.Context) error {
	sources, err := inputSources(a.job)
	if err != nil {
		return fmt.Errorf("%w: %s", worker.ErrDependencyMissing, err.Error())
	}

	for _, source := range sources {
		if a.stopped.Load() {
			return nil
		}
		if err := a.stageOne(ctx, source); err != nil {
			return err
		}
		zap.L().Debug("staged input",
			zap.String("job_uuid", a.job.UUID),
			zap.String("source", source),
		)
	}
	return nil
}

func (a *stagingAction) stageOne(ctx context.Context, source string) error {
	name, err := objectName(source)
	if err != nil {
		return fmt.Errorf("%w: %s", worker.ErrDependencyMissing, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("%w: unsupported input source %s", worker.ErrDependencyMissing, source)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch input %s: %w", source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: input %s returned status %d", worker.ErrDependencyMissing, source, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("input %s returned status %d", source, resp.StatusCode)
	}

	if err := a.archiver.Put(ctx, a.job.WorkPath, name, resp.Body, resp.ContentLength); err != nil {
		return fmt.Errorf("failed to stage input %s: %w", source, err)
	}
	return nil
}

// cleaner removes staged inputs once the attempt budget is exhausted, so
// abandoned jobs do not leak storage.
type cleaner struct {
	archiver objectstore.Archiver
}

func newCleaner(archiver objectstore.Archiver) worker.Cleaner {
	return &cleaner{archiver: archiver}
}

func (c *cleaner) CleanUp(ctx context.Context, j *job.Job) error {
	sources, err := inputSources(j)
	if err != nil {
		return err
	}
	for _, source := range sources {
		name, err := objectName(source)
		if err != nil {
			continue
		}
		if err := c.archiver.Remove(ctx, j.WorkPath, name); err != nil {
			return err
		}
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}
