package otp

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideOTPService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	service := NewService(db, cfg, logger)
	if cfg.OTP.CleanupInterval > 0 {
		service.StartCleanupWorker()
	}
	return service
}

var Options = fx.Options(
	fx.Provide(ProvideOTPService),
)
