package tokenstore

import (
	"time"
)

// Session represents one authenticated device/browser instance. Rows are
// never hard-deleted before the retention window; termination only flips
// lifecycle fields.
type Session struct {
	ID                string     `json:"id" gorm:"primaryKey;size:36"`
	UserID            uint       `json:"user_id" gorm:"not null;index"`
	DeviceName        string     `json:"device_name" gorm:"size:100"`
	DeviceType        string     `json:"device_type" gorm:"size:20"`
	DeviceFingerprint string     `json:"device_fingerprint" gorm:"size:64;index"`
	UserAgent         string     `json:"user_agent" gorm:"size:500"`
	Browser           string     `json:"browser" gorm:"size:50"`
	OS                string     `json:"os" gorm:"size:50"`
	IPAddress         string     `json:"ip_address" gorm:"size:45"`
	Country           string     `json:"country" gorm:"size:64"`
	City              string     `json:"city" gorm:"size:64"`
	Timezone          string     `json:"timezone" gorm:"size:64"`
	IsActive          bool       `json:"is_active" gorm:"not null;default:true;index"`
	IsRememberMe      bool       `json:"is_remember_me"`
	RiskScore         float64    `json:"risk_score"`
	Current           bool       `json:"current" gorm:"-"`
	LoginAt           time.Time  `json:"login_at" gorm:"not null"`
	LastActivityAt    time.Time  `json:"last_activity_at" gorm:"not null;index"`
	LogoutAt          *time.Time `json:"logout_at"`
	ExpiresAt         time.Time  `json:"expires_at" gorm:"not null;index"`
}

func (Session) TableName() string {
	return "sessions"
}

func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// AccessToken is the persisted side of a short-lived signed token. Only the
// SHA-256 of the signed string is stored, never the token itself.
type AccessToken struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	JTI           string     `json:"jti" gorm:"uniqueIndex;size:36;not null"`
	SessionID     string     `json:"session_id" gorm:"not null;index;size:36"`
	UserID        uint       `json:"user_id" gorm:"not null;index"`
	TokenHash     string     `json:"-" gorm:"size:64;not null"`
	Scopes        string     `json:"scopes" gorm:"size:255"`
	IsRevoked     bool       `json:"is_revoked"`
	RevokedReason string     `json:"revoked_reason" gorm:"size:255"`
	RevokedAt     *time.Time `json:"revoked_at"`
	ExpiresAt     time.Time  `json:"expires_at" gorm:"not null;index"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (AccessToken) TableName() string {
	return "access_tokens"
}

func (t *AccessToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

// DeviceInfo carries the caller-supplied device metadata for a new session.
type DeviceInfo struct {
	Name        string
	Type        string
	Fingerprint string
	UserAgent   string
}

type AccessTokenData struct {
	Token     string
	JTI       string
	Hash      string
	ExpiresAt time.Time
}
