package passwordreset

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/tokenstore"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvidePasswordResetService(db *gorm.DB, cfg *config.Config, logger *logging.Service, ts *tokenstore.Service) *Service {
	return NewService(db, cfg, logger, ts)
}

var Options = fx.Options(
	fx.Provide(ProvidePasswordResetService),
)
