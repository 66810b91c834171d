package logging

import (
	"github.com/campuskit/authcore/config"
	"go.uber.org/fx"
)

func ProvideLoggingService(cfg *config.Config) (*Service, error) {
	return NewService(cfg.Log)
}

var Options = fx.Options(
	fx.Provide(ProvideLoggingService),
)
