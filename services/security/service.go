package security

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEventNotFound = errors.New("security event not found")
)

// Composite threat score weights and tier thresholds. These are part of the
// scoring contract and covered by tests; do not tune casually.
const (
	weightFailedLogins   = 0.4
	weightUnusualActiviy = 0.3
	weightSecurityEvents = 0.3

	tierCriticalThreshold = 80.0
	tierHighThreshold     = 60.0
	tierMediumThreshold   = 40.0
	tierLowThreshold      = 20.0
)

const (
	rapidFailureCount  = 5
	rapidFailureWindow = 15 * time.Minute
	uniqueIPThreshold  = 5
	nightRatio         = 0.3
)

type Service struct {
	db     *gorm.DB
	config *config.Config
	logger *logging.Service
	now    func() time.Time
}

type SecurityService interface {
	RecordLoginAttempt(attempt *LoginAttempt) error
	RecordEvent(event *SecurityEvent) error
	ResolveEvent(eventID uint, resolvedBy string) error
	AnalyzeLoginPattern(userID uint, days int) (*LoginPattern, error)
	AnalyzeThreatLevel(userID uint) (*ThreatAssessment, error)
	ComputeLoginRisk(userID uint, ip string) float64
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) RecordLoginAttempt(attempt *LoginAttempt) error {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = s.now()
	}

	if err := s.db.Create(attempt).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to record login attempt",
				zap.String("identifier", attempt.Identifier),
				zap.Error(err))
		}
		return fmt.Errorf("failed to record login attempt: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("login attempt recorded",
			zap.String("identifier", attempt.Identifier),
			zap.Bool("success", attempt.Success))
	}

	return nil
}

func (s *Service) RecordEvent(event *SecurityEvent) error {
	return s.RecordEventInTx(s.db, event)
}

// RecordEventInTx writes an event on the given handle so callers can fold it
// into a larger transaction (family revocation does this).
func (s *Service) RecordEventInTx(tx *gorm.DB, event *SecurityEvent) error {
	if err := tx.Create(event).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to record security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
		return fmt.Errorf("failed to record security event: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("security event recorded",
			zap.String("event_type", event.EventType),
			zap.String("severity", string(event.Severity)),
			zap.Uint("user_id", event.UserID))
	}

	return nil
}

func (s *Service) ResolveEvent(eventID uint, resolvedBy string) error {
	now := s.now()
	result := s.db.Model(&SecurityEvent{}).
		Where("id = ? AND is_resolved = ?", eventID, false).
		Updates(map[string]any{
			"is_resolved": true,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to resolve security event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}

	if s.logger != nil {
		s.logger.Info("security event resolved",
			zap.Uint("event_id", eventID),
			zap.String("resolved_by", resolvedBy))
	}

	return nil
}

// AnalyzeLoginPattern aggregates a user's login attempts over the last N days
// into distribution buckets and discrete anomalies.
func (s *Service) AnalyzeLoginPattern(userID uint, days int) (*LoginPattern, error) {
	since := s.now().AddDate(0, 0, -days)

	var attempts []LoginAttempt
	err := s.db.Where("user_id = ? AND attempted_at >= ?", userID, since).
		Order("attempted_at asc").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load login attempts: %w", err)
	}

	pattern := &LoginPattern{
		UserID:             userID,
		WindowDays:         days,
		TimeOfDayBuckets:   map[string]int{"night": 0, "morning": 0, "afternoon": 0, "evening": 0},
		GeoDistribution:    map[string]int{},
		DeviceDistribution: map[string]int{},
	}

	ips := map[string]struct{}{}
	devices := map[string]struct{}{}
	var failureTimes []time.Time

	for _, a := range attempts {
		pattern.TotalAttempts++
		if a.Success {
			pattern.SuccessfulAttempts++
		} else {
			pattern.FailedAttempts++
			failureTimes = append(failureTimes, a.AttemptedAt)
		}

		if a.IPAddress != "" {
			ips[a.IPAddress] = struct{}{}
		}
		if a.DeviceFingerprint != "" {
			devices[a.DeviceFingerprint] = struct{}{}
			pattern.DeviceDistribution[a.DeviceFingerprint]++
		}
		if a.Country != "" {
			pattern.GeoDistribution[a.Country]++
		}

		pattern.TimeOfDayBuckets[timeOfDayBucket(a.AttemptedAt)]++
	}

	pattern.UniqueIPs = len(ips)
	pattern.UniqueDevices = len(devices)
	pattern.Anomalies = s.detectAnomalies(pattern, failureTimes)

	if s.logger != nil {
		s.logger.Debug("login pattern analyzed",
			zap.Uint("user_id", userID),
			zap.Int("total_attempts", pattern.TotalAttempts),
			zap.Int("anomalies", len(pattern.Anomalies)))
	}

	return pattern, nil
}

func (s *Service) detectAnomalies(pattern *LoginPattern, failureTimes []time.Time) []Anomaly {
	var anomalies []Anomaly

	if hasRapidFailures(failureTimes) {
		anomalies = append(anomalies, Anomaly{
			Type:        "rapid_failed_attempts",
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("%d or more failed attempts within %s", rapidFailureCount, rapidFailureWindow),
		})
	}

	if pattern.UniqueIPs > uniqueIPThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:        "multiple_ips",
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("login attempts from %d distinct IP addresses", pattern.UniqueIPs),
		})
	}

	if pattern.TotalAttempts > 0 {
		night := float64(pattern.TimeOfDayBuckets["night"]) / float64(pattern.TotalAttempts)
		if night > nightRatio {
			anomalies = append(anomalies, Anomaly{
				Type:        "unusual_hours",
				Severity:    SeverityLow,
				Description: fmt.Sprintf("%.0f%% of attempts between 00:00 and 06:00", night*100),
			})
		}
	}

	return anomalies
}

// hasRapidFailures checks for rapidFailureCount failures inside any
// rapidFailureWindow-long sliding sub-window.
func hasRapidFailures(failureTimes []time.Time) bool {
	if len(failureTimes) < rapidFailureCount {
		return false
	}

	sort.Slice(failureTimes, func(i, j int) bool { return failureTimes[i].Before(failureTimes[j]) })

	for i := 0; i+rapidFailureCount-1 < len(failureTimes); i++ {
		if failureTimes[i+rapidFailureCount-1].Sub(failureTimes[i]) <= rapidFailureWindow {
			return true
		}
	}
	return false
}

// AnalyzeThreatLevel computes the composite 0-100 threat score:
// 0.4*failed_login_rate + 0.3*unusual_activity + 0.3*security_events,
// each sub-score normalized to 0-100. Tiers: >=80 critical, >=60 high,
// >=40 medium, >=20 low, else minimal.
func (s *Service) AnalyzeThreatLevel(userID uint) (*ThreatAssessment, error) {
	failedRate, err := s.failedLoginRate(userID)
	if err != nil {
		return nil, err
	}

	pattern, err := s.AnalyzeLoginPattern(userID, int(s.config.Security.ActivityWindow.Hours()/24))
	if err != nil {
		return nil, err
	}
	unusual := unusualActivityScore(pattern)

	eventScore, err := s.securityEventScore(userID)
	if err != nil {
		return nil, err
	}

	score := weightFailedLogins*failedRate + weightUnusualActiviy*unusual + weightSecurityEvents*eventScore
	tier := tierForScore(score)

	assessment := &ThreatAssessment{
		UserID:             userID,
		Score:              score,
		Tier:               tier,
		FailedLoginRate:    failedRate,
		UnusualActivity:    unusual,
		SecurityEventScore: eventScore,
		Recommendations:    recommendationsForTier(tier),
	}

	if s.logger != nil {
		s.logger.Info("threat level analyzed",
			zap.Uint("user_id", userID),
			zap.Float64("score", score),
			zap.String("tier", string(tier)))
	}

	return assessment, nil
}

func (s *Service) failedLoginRate(userID uint) (float64, error) {
	since := s.now().Add(-s.config.Security.FailedLoginWindow)

	var total, failed int64
	if err := s.db.Model(&LoginAttempt{}).
		Where("user_id = ? AND attempted_at >= ?", userID, since).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count login attempts: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	if err := s.db.Model(&LoginAttempt{}).
		Where("user_id = ? AND attempted_at >= ? AND success = ?", userID, since, false).
		Count(&failed).Error; err != nil {
		return 0, fmt.Errorf("failed to count failed login attempts: %w", err)
	}

	return float64(failed) / float64(total) * 100, nil
}

// unusualActivityScore sums the weights of detected anomalies (high 50,
// medium 30, low 20) plus 30 when more than half the attempts failed,
// capped at 100.
func unusualActivityScore(pattern *LoginPattern) float64 {
	score := 0.0
	for _, a := range pattern.Anomalies {
		switch a.Severity {
		case SeverityHigh:
			score += 50
		case SeverityMedium:
			score += 30
		case SeverityLow:
			score += 20
		}
	}

	if pattern.TotalAttempts > 0 &&
		float64(pattern.FailedAttempts)/float64(pattern.TotalAttempts) > 0.5 {
		score += 30
	}

	if score > 100 {
		score = 100
	}
	return score
}

// securityEventScore sums unresolved-event severity weights (low 10,
// medium 25, high 50, critical 100) over the event window, capped at 100.
func (s *Service) securityEventScore(userID uint) (float64, error) {
	since := s.now().Add(-s.config.Security.EventWindow)

	var events []SecurityEvent
	err := s.db.Where("user_id = ? AND created_at >= ? AND is_resolved = ?", userID, since, false).
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load security events: %w", err)
	}

	score := 0.0
	for _, e := range events {
		switch e.Severity {
		case SeverityLow:
			score += 10
		case SeverityMedium:
			score += 25
		case SeverityHigh:
			score += 50
		case SeverityCritical:
			score += 100
		}
	}

	if score > 100 {
		score = 100
	}
	return score, nil
}

// ComputeLoginRisk is a lightweight risk signal attached to new sessions and
// login attempts: recent failures, unseen IP, and night-time login.
func (s *Service) ComputeLoginRisk(userID uint, ip string) float64 {
	now := s.now()
	score := 0.0

	var recentFailures int64
	s.db.Model(&LoginAttempt{}).
		Where("user_id = ? AND attempted_at >= ? AND success = ?", userID, now.Add(-24*time.Hour), false).
		Count(&recentFailures)
	score += float64(recentFailures) * 10
	if score > 50 {
		score = 50
	}

	if ip != "" {
		var seen int64
		s.db.Model(&LoginAttempt{}).
			Where("user_id = ? AND ip_address = ? AND attempted_at >= ?", userID, ip, now.AddDate(0, 0, -30)).
			Count(&seen)
		if seen == 0 {
			score += 25
		}
	}

	if timeOfDayBucket(now) == "night" {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}

func timeOfDayBucket(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 6:
		return "night"
	case h < 12:
		return "morning"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

func tierForScore(score float64) ThreatTier {
	switch {
	case score >= tierCriticalThreshold:
		return TierCritical
	case score >= tierHighThreshold:
		return TierHigh
	case score >= tierMediumThreshold:
		return TierMedium
	case score >= tierLowThreshold:
		return TierLow
	default:
		return TierMinimal
	}
}

func recommendationsForTier(tier ThreatTier) []string {
	switch tier {
	case TierCritical:
		return []string{
			"Immediately revoke all active sessions",
			"Force a password reset",
			"Require OTP verification for all logins",
			"Contact the account owner",
			"Review recent security events",
		}
	case TierHigh:
		return []string{
			"Require OTP verification on next login",
			"Review active sessions",
			"Notify the account owner",
			"Monitor login attempts closely",
		}
	case TierMedium:
		return []string{
			"Monitor account activity",
			"Recommend password rotation",
			"Verify recent logins with the user",
		}
	case TierLow:
		return []string{
			"Continue routine monitoring",
			"No immediate action required",
		}
	default:
		return []string{"No action required"}
	}
}
