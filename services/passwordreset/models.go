package passwordreset

import (
	"time"
)

// PasswordResetToken is single-use and time-boxed. The plaintext Token column
// is only a lookup key; the hash is the validation artifact.
type PasswordResetToken struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	UserID      uint       `json:"user_id" gorm:"not null;index"`
	Token       string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	TokenHash   string     `json:"-" gorm:"size:64;not null"`
	IsUsed      bool       `json:"is_used"`
	IsExpired   bool       `json:"is_expired"`
	RequestedIP string     `json:"requested_ip" gorm:"size:45"`
	UsedIP      string     `json:"used_ip" gorm:"size:45"`
	UsedAgent   string     `json:"used_agent" gorm:"size:500"`
	UsedAt      *time.Time `json:"used_at"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null;index"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (PasswordResetToken) TableName() string {
	return "password_reset_tokens"
}

func (t *PasswordResetToken) IsValid(now time.Time) bool {
	return !t.IsUsed && !t.IsExpired && now.Before(t.ExpiresAt)
}

// PasswordHistoryEntry is an append-only log of prior password hashes.
type PasswordHistoryEntry struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       uint      `json:"user_id" gorm:"not null;index"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

func (PasswordHistoryEntry) TableName() string {
	return "password_history"
}

type ResetTokenData struct {
	Token     string
	ExpiresAt time.Time
}

type CompletionResult struct {
	UserID             uint
	NewPasswordHash    string
	SessionsTerminated int64
}
