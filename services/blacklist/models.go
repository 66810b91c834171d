package blacklist

import (
	"time"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

type RevocationScope string

const (
	ScopeSingle  RevocationScope = "single"
	ScopeSession RevocationScope = "session"
	ScopeFamily  RevocationScope = "family"
	ScopeUser    RevocationScope = "user"
)

// BlacklistEntry is one row per revoked token JTI. Presence alone means the
// token must be rejected, regardless of the flags on the token row itself.
type BlacklistEntry struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	JTI           string    `json:"jti" gorm:"uniqueIndex;size:36;not null"`
	TokenType     TokenType `json:"token_type" gorm:"size:10;not null"`
	TokenHash     string    `json:"-" gorm:"size:64"`
	UserID        uint      `json:"user_id" gorm:"index"`
	Reason        string    `json:"reason" gorm:"size:255"`
	RevokedBy     string    `json:"revoked_by" gorm:"size:100"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null;index"`
	BlacklistedAt time.Time `json:"blacklisted_at" gorm:"not null"`
}

func (BlacklistEntry) TableName() string {
	return "blacklist_entries"
}

// RevocationRecord is an append-only audit entry for one revocation action.
type RevocationRecord struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	Scope          RevocationScope `json:"scope" gorm:"size:10;not null"`
	TargetID       string          `json:"target_id" gorm:"size:64;index"`
	UserID         uint            `json:"user_id" gorm:"index"`
	TokensAffected int64           `json:"tokens_affected"`
	InitiatedBy    string          `json:"initiated_by" gorm:"size:100"`
	Forced         bool            `json:"forced"`
	Reason         string          `json:"reason" gorm:"size:255"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (RevocationRecord) TableName() string {
	return "revocation_records"
}
