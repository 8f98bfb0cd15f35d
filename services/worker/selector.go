package worker

import (
	"context"
	"errors"

	"hpcjobs-controlplane/services/job"
)

func isConflict(err error) bool {
	return errors.Is(err, job.ErrStaleVersion)
}

// statusClaimSelector claims the oldest visible job in a fixed source
// status, scoped by the worker's dedication filters.
type statusClaimSelector struct {
	repo   job.Repository
	status job.Status
	filter job.ClaimFilter
}

func NewClaimSelector(repo job.Repository, status job.Status, filter job.ClaimFilter) ClaimSelector {
	return &statusClaimSelector{repo: repo, status: status, filter: filter}
}

func (s *statusClaimSelector) SelectNext(ctx context.Context) (string, error) {
	return s.repo.SelectNext(ctx, s.status, s.filter)
}
