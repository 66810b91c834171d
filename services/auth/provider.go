package auth

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/otp"
	"github.com/campuskit/authcore/services/passwordreset"
	"github.com/campuskit/authcore/services/refreshtoken"
	"github.com/campuskit/authcore/services/security"
	"github.com/campuskit/authcore/services/tokenstore"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideAuthService(
	db *gorm.DB,
	cfg *config.Config,
	logger *logging.Service,
	users UserStore,
	tokens *tokenstore.Service,
	refresh *refreshtoken.Service,
	otpService *otp.Service,
	reset *passwordreset.Service,
	securityService *security.Service,
) *Service {
	return NewService(db, cfg, logger, users, tokens, refresh, otpService, reset, securityService)
}

var Options = fx.Options(
	fx.Provide(ProvideAuthService),
)
