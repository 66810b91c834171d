package otp

import (
	"time"
)

type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
	PurposeVerification  Purpose = "verification"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// OTPChallenge holds one verification challenge. At most one non-terminal
// challenge exists per (identifier, purpose); issuing a new one expires the
// rest.
type OTPChallenge struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	Identifier     string         `json:"identifier" gorm:"size:255;not null;index:idx_otp_identifier_purpose"`
	IdentifierType IdentifierType `json:"identifier_type" gorm:"size:10;not null"`
	Purpose        Purpose        `json:"purpose" gorm:"size:32;not null;index:idx_otp_identifier_purpose"`
	CodeHash       string         `json:"-" gorm:"size:64;not null"`
	MaxAttempts    int            `json:"max_attempts" gorm:"not null"`
	AttemptCount   int            `json:"attempt_count" gorm:"not null;default:0"`
	IsUsed         bool           `json:"is_used"`
	IsExpired      bool           `json:"is_expired"`
	GeneratedAt    time.Time      `json:"generated_at" gorm:"not null"`
	ExpiresAt      time.Time      `json:"expires_at" gorm:"not null;index"`
	VerifiedAt     *time.Time     `json:"verified_at"`
}

func (OTPChallenge) TableName() string {
	return "otp_challenges"
}

func (c *OTPChallenge) IsValid(now time.Time) bool {
	return !c.IsUsed && !c.IsExpired && c.AttemptCount < c.MaxAttempts && now.Before(c.ExpiresAt)
}

// OTPDelivery tracks one channel's send status for a challenge.
type OTPDelivery struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	ChallengeID       uint           `json:"challenge_id" gorm:"not null;index"`
	Channel           string         `json:"channel" gorm:"size:10;not null"`
	Recipient         string         `json:"recipient" gorm:"size:255;not null"`
	Status            DeliveryStatus `json:"status" gorm:"size:10;not null;default:'pending'"`
	ProviderMessageID string         `json:"provider_message_id" gorm:"size:255"`
	ErrorMessage      string         `json:"error_message" gorm:"size:500"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (OTPDelivery) TableName() string {
	return "otp_deliveries"
}

// ThrottleWindow is one sliding rate-limit window per (identifier, purpose).
// Once blocked, the cooldown runs independently of the window itself.
type ThrottleWindow struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	Identifier   string     `json:"identifier" gorm:"size:255;not null;index:idx_throttle_identifier_purpose"`
	Purpose      Purpose    `json:"purpose" gorm:"size:32;not null;index:idx_throttle_identifier_purpose"`
	IPAddress    string     `json:"ip_address" gorm:"size:45"`
	RequestCount int        `json:"request_count" gorm:"not null;default:0"`
	WindowStart  time.Time  `json:"window_start" gorm:"not null"`
	WindowEnd    time.Time  `json:"window_end" gorm:"not null;index"`
	IsBlocked    bool       `json:"is_blocked"`
	BlockedUntil *time.Time `json:"blocked_until"`
}

func (ThrottleWindow) TableName() string {
	return "throttle_windows"
}

// VerifyResult reports the outcome of a verification attempt.
type VerifyResult struct {
	Verified          bool
	AttemptsRemaining int
}

// SendResult carries the raw code back to the caller exactly once; only the
// hash is persisted.
type SendResult struct {
	Challenge *OTPChallenge
	Code      string
	Delivery  *OTPDelivery
}
