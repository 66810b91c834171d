package otp

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RateLimitError carries the remaining cool-down for a blocked identifier.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter.Round(time.Second))
}

var ErrRateLimited = errors.New("too many requests")

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// CheckRateLimit applies the sliding window for (identifier, purpose). The
// "read count, compare, increment" sequence races under concurrency, so the
// increment is a guarded update keyed on the window row; the block cool-down
// is fixed and may outlast the window itself.
func (s *Service) CheckRateLimit(identifier string, purpose Purpose, ip string) error {
	now := s.now()
	maxRequests := s.config.OTP.ThrottleMaxRequests

	var window ThrottleWindow
	err := s.db.Where("identifier = ? AND purpose = ?", identifier, purpose).
		Order("window_start desc").
		First(&window).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.openWindow(identifier, purpose, ip, now)
		}
		return fmt.Errorf("failed to load throttle window: %w", err)
	}

	if window.IsBlocked {
		if window.BlockedUntil != nil && window.BlockedUntil.After(now) {
			retryAfter := window.BlockedUntil.Sub(now)
			if s.logger != nil {
				s.logger.Warn("request blocked by throttle",
					zap.String("identifier", identifier),
					zap.String("purpose", string(purpose)),
					zap.Duration("retry_after", retryAfter))
			}
			return &RateLimitError{RetryAfter: retryAfter}
		}
		// Block elapsed; start over with a fresh window.
		return s.openWindow(identifier, purpose, ip, now)
	}

	if !window.WindowEnd.After(now) {
		return s.openWindow(identifier, purpose, ip, now)
	}

	if window.RequestCount >= maxRequests {
		return s.block(&window, now)
	}

	result := s.db.Model(&ThrottleWindow{}).
		Where("id = ? AND is_blocked = ? AND request_count < ?", window.ID, false, maxRequests).
		Update("request_count", gorm.Expr("request_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment throttle window: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race to the last slot; the cap is now reached.
		return s.block(&window, now)
	}

	return nil
}

func (s *Service) openWindow(identifier string, purpose Purpose, ip string, now time.Time) error {
	window := &ThrottleWindow{
		Identifier:   identifier,
		Purpose:      purpose,
		IPAddress:    ip,
		RequestCount: 1,
		WindowStart:  now,
		WindowEnd:    now.Add(s.config.OTP.ThrottleWindow),
	}

	if err := s.db.Create(window).Error; err != nil {
		return fmt.Errorf("failed to create throttle window: %w", err)
	}

	return nil
}

func (s *Service) block(window *ThrottleWindow, now time.Time) error {
	blockedUntil := now.Add(s.config.OTP.ThrottleBlockDuration)

	result := s.db.Model(&ThrottleWindow{}).
		Where("id = ? AND is_blocked = ?", window.ID, false).
		Updates(map[string]any{
			"is_blocked":    true,
			"blocked_until": blockedUntil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to block throttle window: %w", result.Error)
	}

	if s.logger != nil {
		s.logger.Warn("identifier blocked by throttle",
			zap.String("identifier", window.Identifier),
			zap.String("purpose", string(window.Purpose)),
			zap.Time("blocked_until", blockedUntil))
	}

	return &RateLimitError{RetryAfter: s.config.OTP.ThrottleBlockDuration}
}
