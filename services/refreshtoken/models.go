package refreshtoken

import (
	"time"
)

// RefreshToken is one link in a rotation family: a singly-linked, forward-only
// chain of single-use tokens sharing a family id. ParentJTI points backward
// only; the chain is never cyclic.
type RefreshToken struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	JTI           string     `json:"jti" gorm:"uniqueIndex;size:36;not null"`
	SessionID     string     `json:"session_id" gorm:"not null;index;size:36"`
	UserID        uint       `json:"user_id" gorm:"not null;index"`
	FamilyID      string     `json:"family_id" gorm:"not null;index;size:36"`
	ParentJTI     string     `json:"parent_jti" gorm:"size:36"`
	TokenHash     string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	RotationCount int        `json:"rotation_count"`
	IsRememberMe  bool       `json:"is_remember_me"`
	IsUsed        bool       `json:"is_used"`
	UsedAt        *time.Time `json:"used_at"`
	IsRevoked     bool       `json:"is_revoked"`
	RevokedReason string     `json:"revoked_reason" gorm:"size:255"`
	RevokedAt     *time.Time `json:"revoked_at"`
	ExpiresAt     time.Time  `json:"expires_at" gorm:"not null;index"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && now.Before(t.ExpiresAt)
}

type RefreshTokenData struct {
	Token     string
	JTI       string
	FamilyID  string
	Hash      string
	ExpiresAt time.Time
}

type RotationResult struct {
	OldJTI        string
	NewToken      *RefreshTokenData
	SessionID     string
	UserID        uint
	RotationCount int
}
