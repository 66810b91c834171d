package tokenstore

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/blacklist"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/refreshtoken"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideTokenStoreService(db *gorm.DB, cfg *config.Config, logger *logging.Service, bl *blacklist.Service, rt *refreshtoken.Service) *Service {
	service := NewService(db, cfg, logger, bl, rt)

	if cfg.Session.CleanupInterval > 0 {
		service.StartCleanupWorker()
	}

	return service
}

var Options = fx.Options(
	fx.Provide(ProvideTokenStoreService),
)
