package mail

import (
	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/fx"
)

func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	return NewService(&cfg.Mail, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideMailService),
)
