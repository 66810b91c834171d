// Package authcore is an embeddable token lifecycle and security monitoring
// core: sessions, access and refresh tokens with rotation and reuse
// detection, a revocation ledger, OTP delivery with throttling, password
// reset, and login analytics.
package authcore

import (
	"github.com/campuskit/authcore/app"
)

type App = app.App

type Builder = app.AppBuilder

func New() *Builder {
	return app.NewApp()
}

// Models lists every persisted model for hosts that run their own migrations.
func Models() []any {
	return app.DefaultModels()
}
