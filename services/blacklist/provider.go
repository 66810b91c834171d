package blacklist

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideBlacklistService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	var cache *Cache
	if cfg.Blacklist.CacheEnabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Blacklist.CacheAddr})
		cache = NewCache(client, cfg.Blacklist.CacheTTL, logger)
	}

	service := NewService(db, cfg, logger, cache)

	if cfg.Blacklist.CleanupInterval > 0 {
		service.StartCleanupWorker()
	}

	return service
}

var Options = fx.Options(
	fx.Provide(ProvideBlacklistService),
)
