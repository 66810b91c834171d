package security

import (
	"testing"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func getTestSecurityConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			FailedLoginWindow: 24 * time.Hour,
			ActivityWindow:    168 * time.Hour,
			EventWindow:       720 * time.Hour,
		},
	}
}

func setupSecurityService(t *testing.T) (*Service, *gorm.DB) {
	db := testutils.SetupTestDB(t, &LoginAttempt{}, &SecurityEvent{})
	service := NewService(db, getTestSecurityConfig(), nil)
	return service, db
}

// fixedNoon keeps the time-of-day bucket out of the night window.
var fixedNoon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestService_RecordLoginAttempt(t *testing.T) {
	service, db := setupSecurityService(t)

	attempt := &LoginAttempt{
		Identifier: "alice@example.com",
		UserID:     1,
		Success:    false,
		IPAddress:  "10.0.0.1",
	}
	require.NoError(t, service.RecordLoginAttempt(attempt))

	var stored LoginAttempt
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "alice@example.com", stored.Identifier)
	assert.False(t, stored.AttemptedAt.IsZero())
}

func TestService_ResolveEvent(t *testing.T) {
	service, db := setupSecurityService(t)

	event := &SecurityEvent{
		EventType: "test_event",
		Severity:  SeverityMedium,
		UserID:    1,
	}
	require.NoError(t, service.RecordEvent(event))

	t.Run("resolves open event", func(t *testing.T) {
		require.NoError(t, service.ResolveEvent(event.ID, "admin"))

		var stored SecurityEvent
		require.NoError(t, db.First(&stored, event.ID).Error)
		assert.True(t, stored.IsResolved)
		assert.Equal(t, "admin", stored.ResolvedBy)
		assert.NotNil(t, stored.ResolvedAt)
	})

	t.Run("resolving twice fails", func(t *testing.T) {
		err := service.ResolveEvent(event.ID, "admin")
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("unknown event fails", func(t *testing.T) {
		err := service.ResolveEvent(99999, "admin")
		assert.ErrorIs(t, err, ErrEventNotFound)
	})
}

func seedAttempt(t *testing.T, db *gorm.DB, userID uint, success bool, ip string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&LoginAttempt{
		UserID:      userID,
		Identifier:  "user@example.com",
		Success:     success,
		IPAddress:   ip,
		AttemptedAt: at,
	}).Error)
}

func TestService_AnalyzeLoginPattern(t *testing.T) {
	service, db := setupSecurityService(t)
	service.now = func() time.Time { return fixedNoon }

	t.Run("no attempts yields empty pattern", func(t *testing.T) {
		pattern, err := service.AnalyzeLoginPattern(10, 7)
		require.NoError(t, err)
		assert.Zero(t, pattern.TotalAttempts)
		assert.Empty(t, pattern.Anomalies)
	})

	t.Run("rapid failures flagged as high severity", func(t *testing.T) {
		base := fixedNoon.Add(-2 * time.Hour)
		for i := 0; i < 5; i++ {
			seedAttempt(t, db, 11, false, "10.0.0.1", base.Add(time.Duration(i)*2*time.Minute))
		}

		pattern, err := service.AnalyzeLoginPattern(11, 7)
		require.NoError(t, err)

		require.Len(t, pattern.Anomalies, 1)
		assert.Equal(t, "rapid_failed_attempts", pattern.Anomalies[0].Type)
		assert.Equal(t, SeverityHigh, pattern.Anomalies[0].Severity)
	})

	t.Run("spread out failures are not rapid", func(t *testing.T) {
		base := fixedNoon.Add(-20 * time.Hour)
		for i := 0; i < 5; i++ {
			seedAttempt(t, db, 12, false, "10.0.0.1", base.Add(time.Duration(i)*time.Hour))
		}

		pattern, err := service.AnalyzeLoginPattern(12, 7)
		require.NoError(t, err)

		for _, a := range pattern.Anomalies {
			assert.NotEqual(t, "rapid_failed_attempts", a.Type)
		}
	})

	t.Run("many distinct ips flagged as medium severity", func(t *testing.T) {
		ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5", "6.6.6.6"}
		for i, ip := range ips {
			seedAttempt(t, db, 13, true, ip, fixedNoon.Add(-time.Duration(i+1)*time.Hour))
		}

		pattern, err := service.AnalyzeLoginPattern(13, 7)
		require.NoError(t, err)

		assert.Equal(t, 6, pattern.UniqueIPs)
		require.Len(t, pattern.Anomalies, 1)
		assert.Equal(t, "multiple_ips", pattern.Anomalies[0].Type)
		assert.Equal(t, SeverityMedium, pattern.Anomalies[0].Severity)
	})

	t.Run("night time attempts flagged as low severity", func(t *testing.T) {
		night := time.Date(2026, 3, 9, 2, 0, 0, 0, time.UTC)
		seedAttempt(t, db, 14, true, "10.0.0.1", night)
		seedAttempt(t, db, 14, true, "10.0.0.1", night.Add(time.Hour))
		seedAttempt(t, db, 14, true, "10.0.0.1", fixedNoon.Add(-time.Hour))

		pattern, err := service.AnalyzeLoginPattern(14, 7)
		require.NoError(t, err)

		require.Len(t, pattern.Anomalies, 1)
		assert.Equal(t, "unusual_hours", pattern.Anomalies[0].Type)
		assert.Equal(t, SeverityLow, pattern.Anomalies[0].Severity)
	})
}

func TestService_AnalyzeThreatLevel(t *testing.T) {
	t.Run("clean account is minimal", func(t *testing.T) {
		service, db := setupSecurityService(t)
		service.now = func() time.Time { return fixedNoon }

		seedAttempt(t, db, 1, true, "10.0.0.1", fixedNoon.Add(-time.Hour))

		assessment, err := service.AnalyzeThreatLevel(1)
		require.NoError(t, err)
		assert.Equal(t, TierMinimal, assessment.Tier)
		assert.Zero(t, assessment.Score)
	})

	t.Run("heavy failure pattern scores high", func(t *testing.T) {
		service, db := setupSecurityService(t)
		service.now = func() time.Time { return fixedNoon }

		// 15 failures across 8 IPs, rapid burst included, 5 successes.
		// Failed rate 75; anomalies: rapid (50) + ips (30) + fail ratio (30),
		// capped at 100. Composite: 0.4*75 + 0.3*100 = 60.
		burst := fixedNoon.Add(-3 * time.Hour)
		for i := 0; i < 5; i++ {
			seedAttempt(t, db, 2, false, "1.1.1.1", burst.Add(time.Duration(i)*time.Minute))
		}
		ips := []string{"2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5", "6.6.6.6", "7.7.7.7", "8.8.8.8"}
		for i := 0; i < 10; i++ {
			seedAttempt(t, db, 2, false, ips[i%len(ips)], fixedNoon.Add(-time.Duration(i+4)*time.Hour))
		}
		for i := 0; i < 5; i++ {
			seedAttempt(t, db, 2, true, "1.1.1.1", fixedNoon.Add(-time.Duration(i+14)*time.Hour))
		}

		assessment, err := service.AnalyzeThreatLevel(2)
		require.NoError(t, err)

		assert.InDelta(t, 75.0, assessment.FailedLoginRate, 0.01)
		assert.InDelta(t, 100.0, assessment.UnusualActivity, 0.01)
		assert.InDelta(t, 60.0, assessment.Score, 0.01)
		assert.Equal(t, TierHigh, assessment.Tier)
		assert.NotEmpty(t, assessment.Recommendations)
	})

	t.Run("unresolved critical event pushes score up", func(t *testing.T) {
		service, db := setupSecurityService(t)
		service.now = func() time.Time { return fixedNoon }

		seedAttempt(t, db, 3, true, "10.0.0.1", fixedNoon.Add(-time.Hour))
		require.NoError(t, service.RecordEvent(&SecurityEvent{
			EventType: "refresh_token_reuse",
			Severity:  SeverityCritical,
			UserID:    3,
			RiskScore: 100,
		}))

		assessment, err := service.AnalyzeThreatLevel(3)
		require.NoError(t, err)
		assert.InDelta(t, 100.0, assessment.SecurityEventScore, 0.01)
		assert.InDelta(t, 30.0, assessment.Score, 0.01)
		assert.Equal(t, TierLow, assessment.Tier)
	})

	t.Run("resolved events do not count", func(t *testing.T) {
		service, db := setupSecurityService(t)
		service.now = func() time.Time { return fixedNoon }

		seedAttempt(t, db, 4, true, "10.0.0.1", fixedNoon.Add(-time.Hour))
		event := &SecurityEvent{EventType: "old_event", Severity: SeverityCritical, UserID: 4}
		require.NoError(t, service.RecordEvent(event))
		require.NoError(t, service.ResolveEvent(event.ID, "admin"))

		assessment, err := service.AnalyzeThreatLevel(4)
		require.NoError(t, err)
		assert.Zero(t, assessment.SecurityEventScore)
	})
}

func TestTierForScore(t *testing.T) {
	assert.Equal(t, TierCritical, tierForScore(80))
	assert.Equal(t, TierCritical, tierForScore(95))
	assert.Equal(t, TierHigh, tierForScore(60))
	assert.Equal(t, TierHigh, tierForScore(79.9))
	assert.Equal(t, TierMedium, tierForScore(40))
	assert.Equal(t, TierLow, tierForScore(20))
	assert.Equal(t, TierMinimal, tierForScore(19.9))
	assert.Equal(t, TierMinimal, tierForScore(0))
}

func TestService_ComputeLoginRisk(t *testing.T) {
	service, db := setupSecurityService(t)
	service.now = func() time.Time { return fixedNoon }

	t.Run("unseen ip adds risk", func(t *testing.T) {
		score := service.ComputeLoginRisk(20, "99.99.99.99")
		assert.Equal(t, 25.0, score)
	})

	t.Run("known ip with no failures is clean", func(t *testing.T) {
		seedAttempt(t, db, 21, true, "10.0.0.1", fixedNoon.Add(-time.Hour))
		score := service.ComputeLoginRisk(21, "10.0.0.1")
		assert.Equal(t, 0.0, score)
	})

	t.Run("recent failures capped at 50", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			seedAttempt(t, db, 22, false, "10.0.0.2", fixedNoon.Add(-time.Duration(i+1)*time.Minute))
		}
		score := service.ComputeLoginRisk(22, "10.0.0.2")
		assert.Equal(t, 50.0, score)
	})

	t.Run("night login adds risk", func(t *testing.T) {
		service.now = func() time.Time { return time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC) }
		defer func() { service.now = func() time.Time { return fixedNoon } }()

		seedAttempt(t, db, 23, true, "10.0.0.3", fixedNoon.Add(-time.Hour))
		score := service.ComputeLoginRisk(23, "10.0.0.3")
		assert.Equal(t, 15.0, score)
	})
}
