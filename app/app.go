package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuskit/authcore/config"
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

type App struct {
	fx        *fx.App
	config    *config.Config
	logger    *logging.Service
	db        *gorm.DB
	tokens    *tokenstore.Service
	refresh   *refreshtoken.Service
	blacklist *blacklist.Service
	otp       *otp.Service
	reset     *passwordreset.Service
	security  *security.Service
	mail      *mail.Service
	auth      *auth.Service
}

func (a *App) Start() error {
	return a.fx.Start(context.Background())
}

func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	if a.logger != nil {
		a.logger.Info("Received shutdown signal, stopping gracefully...")
	} else {
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	}

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Failed to stop application gracefully")
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}

func (a *App) Config() *config.Config { return a.config }

func (a *App) Logger() *logging.Service { return a.logger }

func (a *App) DB() *gorm.DB { return a.db }

func (a *App) Tokens() *tokenstore.Service { return a.tokens }

func (a *App) RefreshTokens() *refreshtoken.Service { return a.refresh }

func (a *App) Blacklist() *blacklist.Service { return a.blacklist }

func (a *App) OTP() *otp.Service { return a.otp }

func (a *App) PasswordReset() *passwordreset.Service { return a.reset }

func (a *App) Security() *security.Service { return a.security }

func (a *App) Mail() *mail.Service { return a.mail }

func (a *App) Auth() *auth.Service { return a.auth }
