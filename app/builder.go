package app

import (
	"fmt"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/database"
	"github.com/campuskit/authcore/services/auth"
	"github.com/campuskit/authcore/services/blacklist"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/mail"
	"github.com/campuskit/authcore/services/otp"
	"github.com/campuskit/authcore/services/passwordreset"
	"github.com/campuskit/authcore/services/refreshtoken"
	"github.com/campuskit/authcore/services/security"
	"github.com/campuskit/authcore/services/tokenstore"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type AppBuilder struct {
	config    *config.Config
	services  map[string]bool
	models    []any
	userStore auth.UserStore
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

// DefaultModels returns every model the token core persists, for callers that
// migrate their own database alongside.
func DefaultModels() []any {
	return []any{
		&tokenstore.Session{},
		&tokenstore.AccessToken{},
		&refreshtoken.RefreshToken{},
		&blacklist.BlacklistEntry{},
		&blacklist.RevocationRecord{},
		&otp.OTPChallenge{},
		&otp.OTPDelivery{},
		&otp.ThrottleWindow{},
		&passwordreset.PasswordResetToken{},
		&passwordreset.PasswordHistoryEntry{},
		&security.LoginAttempt{},
		&security.SecurityEvent{},
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithDatabase(models ...any) *AppBuilder {
	b.services["database"] = true
	if len(models) == 0 {
		models = DefaultModels()
	}
	b.models = append(b.models, models...)
	return b
}

func (b *AppBuilder) WithMail() *AppBuilder {
	b.services["mail"] = true
	return b
}

// WithAuth enables the facade. The host supplies its credential source.
func (b *AppBuilder) WithAuth(users auth.UserStore) *AppBuilder {
	if users == nil {
		b.addError("user store cannot be nil")
		return b
	}
	b.services["auth"] = true
	b.services["database"] = true
	b.userStore = users
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}

	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewService(b.config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := b.buildDatabase()
	if err != nil {
		return nil, err
	}

	app := &App{
		config: b.config,
		logger: logger,
		db:     db,
	}

	fxOptions := b.buildFxOptions(db, logger, app)

	app.fx = fx.New(fxOptions...)
	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	return nil
}

func (b *AppBuilder) buildDatabase() (*gorm.DB, error) {
	if !b.services["database"] {
		b.services["database"] = true
		if len(b.models) == 0 {
			b.models = DefaultModels()
		}
	}

	db, err := database.ProvideDatabase(*b.config, database.WithModels(b.models...))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func (b *AppBuilder) buildFxOptions(db *gorm.DB, logger *logging.Service, app *App) []fx.Option {
	options := []fx.Option{
		fx.Supply(b.config),
		fx.Supply(logger),
		fx.Supply(db),
		fx.NopLogger,
		blacklist.Options,
		security.Options,
		refreshtoken.Options,
		tokenstore.Options,
		otp.Options,
		passwordreset.Options,
	}

	if b.services["mail"] {
		options = append(options, mail.Options)
		options = append(options, fx.Invoke(func(otpSvc *otp.Service, mailSvc *mail.Service) {
			otpSvc.SetDeliverer(mailSvc)
		}))
	}

	if b.services["auth"] {
		options = append(options,
			fx.Supply(fx.Annotate(b.userStore, fx.As(new(auth.UserStore)))),
			auth.Options,
		)
		if b.services["mail"] {
			options = append(options, fx.Invoke(func(authSvc *auth.Service, mailSvc *mail.Service) {
				authSvc.SetResetNotifier(mailSvc)
			}))
		}
	}

	options = append(options, b.fxOptions...)

	options = append(options, fx.Invoke(func(container serviceContainer) {
		app.tokens = container.Tokens
		app.refresh = container.Refresh
		app.blacklist = container.Blacklist
		app.otp = container.OTP
		app.reset = container.Reset
		app.security = container.Security
	}))

	if b.services["mail"] {
		options = append(options, fx.Invoke(func(mailSvc *mail.Service) {
			app.mail = mailSvc
		}))
	}
	if b.services["auth"] {
		options = append(options, fx.Invoke(func(authSvc *auth.Service) {
			app.auth = authSvc
		}))
	}

	return options
}

type serviceContainer struct {
	fx.In

	Tokens    *tokenstore.Service
	Refresh   *refreshtoken.Service
	Blacklist *blacklist.Service
	OTP       *otp.Service
	Reset     *passwordreset.Service
	Security  *security.Service
}
