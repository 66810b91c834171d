package security

import (
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ThreatTier string

const (
	TierMinimal  ThreatTier = "minimal"
	TierLow      ThreatTier = "low"
	TierMedium   ThreatTier = "medium"
	TierHigh     ThreatTier = "high"
	TierCritical ThreatTier = "critical"
)

// LoginAttempt is one row per authentication attempt, successful or not.
type LoginAttempt struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	Identifier        string    `json:"identifier" gorm:"size:255;index"`
	UserID            uint      `json:"user_id" gorm:"index"`
	Success           bool      `json:"success" gorm:"index"`
	FailureReason     string    `json:"failure_reason" gorm:"size:255"`
	IPAddress         string    `json:"ip_address" gorm:"size:45"`
	UserAgent         string    `json:"user_agent" gorm:"size:500"`
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"size:64"`
	Country           string    `json:"country" gorm:"size:64"`
	City              string    `json:"city" gorm:"size:64"`
	RiskScore         float64   `json:"risk_score"`
	AttemptedAt       time.Time `json:"attempted_at" gorm:"not null;index"`
}

func (LoginAttempt) TableName() string {
	return "login_attempts"
}

// SecurityEvent is immutable until resolved.
type SecurityEvent struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	EventType   string     `json:"event_type" gorm:"size:64;not null;index"`
	Severity    Severity   `json:"severity" gorm:"size:10;not null;index"`
	Description string     `json:"description" gorm:"size:500"`
	UserID      uint       `json:"user_id" gorm:"index"`
	IPAddress   string     `json:"ip_address" gorm:"size:45"`
	UserAgent   string     `json:"user_agent" gorm:"size:500"`
	Country     string     `json:"country" gorm:"size:64"`
	City        string     `json:"city" gorm:"size:64"`
	RiskScore   float64    `json:"risk_score"`
	IsResolved  bool       `json:"is_resolved" gorm:"index"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	ResolvedBy  string     `json:"resolved_by" gorm:"size:100"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

type Anomaly struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// LoginPattern summarizes a user's login history over an analysis window.
type LoginPattern struct {
	UserID             uint           `json:"user_id"`
	WindowDays         int            `json:"window_days"`
	TotalAttempts      int            `json:"total_attempts"`
	SuccessfulAttempts int            `json:"successful_attempts"`
	FailedAttempts     int            `json:"failed_attempts"`
	UniqueIPs          int            `json:"unique_ips"`
	UniqueDevices      int            `json:"unique_devices"`
	TimeOfDayBuckets   map[string]int `json:"time_of_day_buckets"`
	GeoDistribution    map[string]int `json:"geo_distribution"`
	DeviceDistribution map[string]int `json:"device_distribution"`
	Anomalies          []Anomaly      `json:"anomalies"`
}

// ThreatAssessment is the deterministic composite threat score and tier.
type ThreatAssessment struct {
	UserID             uint       `json:"user_id"`
	Score              float64    `json:"score"`
	Tier               ThreatTier `json:"tier"`
	FailedLoginRate    float64    `json:"failed_login_rate"`
	UnusualActivity    float64    `json:"unusual_activity_score"`
	SecurityEventScore float64    `json:"security_event_score"`
	Recommendations    []string   `json:"recommendations"`
}
