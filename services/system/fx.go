package system

import (
	"hpcjobs-controlplane/pkg/config"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("system.service",
	fx.Provide(
		provideCache,
		provideChecker,
	),
)

func provideCache(cfg *config.Config) *AccessCache {
	return NewAccessCache(cfg.Worker.SystemCacheWindow)
}

func provideChecker(db *gorm.DB, cache *AccessCache) AvailabilityCheck {
	return NewChecker(db, cache, nil)
}
