package refreshtoken

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/blacklist"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/security"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRefreshTokenService(db *gorm.DB, cfg *config.Config, logger *logging.Service, bl *blacklist.Service, sec *security.Service) *Service {
	service := NewService(db, cfg, logger, bl, sec)

	if cfg.RefreshToken.CleanupInterval > 0 {
		service.StartCleanupWorker()
	}

	return service
}

var Options = fx.Options(
	fx.Provide(ProvideRefreshTokenService),
)
