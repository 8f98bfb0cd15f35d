package job

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrStaleVersion signals that a persist lost the optimistic concurrency
// race: another worker mutated the job since it was loaded. Callers treat
// this as routine contention, not a failure.
var ErrStaleVersion = errors.New("job version is stale")

// ClaimFilter scopes claim queries to a worker's dedication settings.
// Empty fields apply no filter.
type ClaimFilter struct {
	TenantID string
	Username string
	SystemID string
}

// Repository describes the persistence operations the lifecycle core needs.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	// Load fetches a job with its event history. tenantID may be empty for
	// worker-internal loads where the claim query already scoped the row.
	Load(ctx context.Context, tenantID, uuid string) (*Job, error)
	// Persist writes the mutable job fields guarded by the version counter.
	// Returns ErrStaleVersion when the counter no longer matches.
	Persist(ctx context.Context, j *Job) error
	AppendEvent(ctx context.Context, ev *JobEvent) error
	// SelectNext returns the uuid of one claimable job in the given status,
	// oldest first, or "" when nothing is eligible. Two concurrent callers
	// may receive the same uuid; the Persist version check settles the race.
	SelectNext(ctx context.Context, status Status, f ClaimFilter) (string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, j *Job) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *gormRepository) Load(ctx context.Context, tenantID, uuid string) (*Job, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Preload("Events").Where("uuid = ?", uuid)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	var j Job
	if err := query.First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func (r *gormRepository) Persist(ctx context.Context, j *Job) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	current := j.Version
	res := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND version = ?", j.ID, current).
		Updates(map[string]any{
			"status":        j.Status,
			"last_message":  j.LastMessage,
			"status_checks": j.StatusChecks,
			"retries":       j.Retries,
			"work_path":     j.WorkPath,
			"output_path":   j.OutputPath,
			"archive_path":  j.ArchivePath,
			"last_updated":  j.LastUpdated,
			"submit_time":   j.SubmitTime,
			"start_time":    j.StartTime,
			"end_time":      j.EndTime,
			"visible":       j.Visible,
			"version":       current + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}

	j.Version = current + 1
	return nil
}

func (r *gormRepository) AppendEvent(ctx context.Context, ev *JobEvent) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *gormRepository) SelectNext(ctx context.Context, status Status, f ClaimFilter) (string, error) {
	if r == nil || r.db == nil {
		return "", gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND visible = ?", status, true)

	if f.TenantID != "" {
		query = query.Where("tenant_id = ?", f.TenantID)
	}
	if f.Username != "" {
		query = query.Where("owner = ?", f.Username)
	}
	if f.SystemID != "" {
		query = query.Where("system_id = ?", f.SystemID)
	}

	var uuids []string
	err := query.Order("created ASC").Order("id ASC").
		Limit(1).
		Pluck("uuid", &uuids).Error
	if err != nil {
		return "", err
	}
	if len(uuids) == 0 {
		return "", nil
	}
	return uuids[0], nil
}
