package system

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSystemUnknown means no system with that id is registered for the
	// tenant. Unknown systems never self-heal, so callers fail terminally.
	ErrSystemUnknown = errors.New("execution system is not registered")
	// ErrSystemUnavailable means the system exists but is currently down or
	// in maintenance. Callers park the job and retry later.
	ErrSystemUnavailable = errors.New("execution system is not available")
)

// AvailabilityCheck resolves an execution system and verifies it is up.
// When the system exists but is unavailable, the record is returned
// alongside ErrSystemUnavailable so callers can still inspect it.
type AvailabilityCheck interface {
	Resolve(ctx context.Context, tenantID, systemID string) (*System, error)
}

// Prober performs a live reachability check against a system. Optional;
// when absent the registered status is trusted as-is.
type Prober func(ctx context.Context, sys *System) error

type Checker struct {
	db     *gorm.DB
	cache  *AccessCache
	prober Prober
}

func NewChecker(db *gorm.DB, cache *AccessCache, prober Prober) *Checker {
	return &Checker{db: db, cache: cache, prober: prober}
}

func (c *Checker) Resolve(ctx context.Context, tenantID, systemID string) (*System, error) {
	var sys System
	err := c.db.WithContext(ctx).
		Where("tenant_id = ? AND system_id = ?", tenantID, systemID).
		First(&sys).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSystemUnknown, systemID)
	}
	if err != nil {
		return nil, err
	}

	if !sys.IsAvailable() {
		return &sys, fmt.Errorf("%w: %s is %s", ErrSystemUnavailable, systemID, sys.Status)
	}

	// A fresh cached contact lets us skip the live probe. The cache never
	// decides unavailability on its own.
	if c.prober != nil {
		if _, fresh := c.cache.LastSuccess(systemID); !fresh {
			if err := c.cache.Probe(ctx, systemID, func(ctx context.Context) error {
				return c.prober(ctx, &sys)
			}); err != nil {
				zap.L().Warn("system probe failed",
					zap.String("system_id", systemID),
					zap.String("tenant_id", tenantID),
					zap.Error(err),
				)
				return &sys, fmt.Errorf("%w: %s did not respond", ErrSystemUnavailable, systemID)
			}
		}
	} else {
		c.cache.RecordSuccess(systemID)
	}

	return &sys, nil
}
