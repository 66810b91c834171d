package auth

import (
	"time"

	"github.com/campuskit/authcore/services/refreshtoken"
	"github.com/campuskit/authcore/services/tokenstore"
)

// User is the credential view the facade needs from the host application.
type User struct {
	ID           uint
	Identifier   string
	Email        string
	PasswordHash string
	Disabled     bool
}

type LoginResult struct {
	User         *User
	Session      *tokenstore.Session
	AccessToken  *tokenstore.AccessTokenData
	RefreshToken *refreshtoken.RefreshTokenData
	RiskScore    float64
}

type RefreshResult struct {
	SessionID    string
	UserID       uint
	AccessToken  *tokenstore.AccessTokenData
	RefreshToken *refreshtoken.RefreshTokenData
}

type ValidationResult struct {
	UserID    uint
	SessionID string
	Scopes    string
	ExpiresAt time.Time
}
