package security

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSecurityService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(db, cfg, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideSecurityService),
)
