package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrChallengeNotFound    = errors.New("no active verification code found")
	ErrChallengeInvalid     = errors.New("OTP has expired or exceeded maximum attempts")
	ErrCodeMismatch         = errors.New("incorrect verification code")
	ErrMaxAttemptsExceeded  = errors.New("maximum verification attempts exceeded")
	ErrCodeGenerationFailed = errors.New("failed to generate verification code")
)

// Deliverer hands a generated code to an external channel. The engine only
// records the returned status; it never blocks on actual delivery.
type Deliverer interface {
	Deliver(channel, recipient string, payload map[string]string) (providerMessageID string, err error)
}

type OTPService interface {
	Send(identifier string, identifierType IdentifierType, purpose Purpose, ip string) (*SendResult, error)
	Verify(identifier, code string, purpose Purpose) (*VerifyResult, error)
	CheckRateLimit(identifier string, purpose Purpose, ip string) error
}

type Service struct {
	db        *gorm.DB
	config    *config.Config
	logger    *logging.Service
	deliverer Deliverer
	now       func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing OTP service",
			zap.Int("code_length", cfg.OTP.CodeLength),
			zap.Duration("expiry", cfg.OTP.Expiry),
			zap.Int("max_attempts", cfg.OTP.MaxAttempts))
	}

	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) SetDeliverer(deliverer Deliverer) {
	s.deliverer = deliverer
}

// Send issues a fresh challenge for (identifier, purpose) after the throttle
// check, expiring any previous non-terminal challenge for the same pair.
func (s *Service) Send(identifier string, identifierType IdentifierType, purpose Purpose, ip string) (*SendResult, error) {
	if err := s.CheckRateLimit(identifier, purpose, ip); err != nil {
		return nil, err
	}

	code, err := s.generateCode()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate OTP code", zap.Error(err))
		}
		return nil, ErrCodeGenerationFailed
	}

	now := s.now()
	challenge := &OTPChallenge{
		Identifier:     identifier,
		IdentifierType: identifierType,
		Purpose:        purpose,
		CodeHash:       hashCode(code),
		MaxAttempts:    s.config.OTP.MaxAttempts,
		GeneratedAt:    now,
		ExpiresAt:      now.Add(s.config.OTP.Expiry),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&OTPChallenge{}).
			Where("identifier = ? AND purpose = ? AND is_used = ? AND is_expired = ?", identifier, purpose, false, false).
			Update("is_expired", true).Error
		if err != nil {
			return fmt.Errorf("failed to invalidate previous challenges: %w", err)
		}

		return tx.Create(challenge).Error
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store OTP challenge",
				zap.String("identifier", identifier),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to store OTP challenge: %w", err)
	}

	delivery := s.dispatch(challenge, code)

	if s.logger != nil {
		s.logger.Info("OTP challenge created",
			zap.String("identifier", identifier),
			zap.String("purpose", string(purpose)),
			zap.String("delivery_status", string(delivery.Status)))
	}

	return &SendResult{
		Challenge: challenge,
		Code:      code,
		Delivery:  delivery,
	}, nil
}

func (s *Service) dispatch(challenge *OTPChallenge, code string) *OTPDelivery {
	delivery := &OTPDelivery{
		ChallengeID: challenge.ID,
		Channel:     string(challenge.IdentifierType),
		Recipient:   challenge.Identifier,
		Status:      DeliveryPending,
	}
	s.db.Create(delivery)

	if s.deliverer == nil {
		return delivery
	}

	payload := map[string]string{
		"code":    code,
		"purpose": string(challenge.Purpose),
		"expiry":  challenge.ExpiresAt.Format(time.RFC3339),
	}

	messageID, err := s.deliverer.Deliver(delivery.Channel, delivery.Recipient, payload)
	if err != nil {
		delivery.Status = DeliveryFailed
		delivery.ErrorMessage = err.Error()
		if s.logger != nil {
			s.logger.Warn("OTP delivery failed",
				zap.String("channel", delivery.Channel),
				zap.Error(err))
		}
	} else {
		delivery.Status = DeliverySent
		delivery.ProviderMessageID = messageID
	}

	s.db.Save(delivery)
	return delivery
}

// Verify compares the supplied code against the active challenge. Mismatches
// use a guarded increment so the attempt bound holds exactly under concurrent
// callers; the increment that reaches the bound also expires the challenge.
func (s *Service) Verify(identifier, code string, purpose Purpose) (*VerifyResult, error) {
	now := s.now()

	var challenge OTPChallenge
	err := s.db.Where("identifier = ? AND purpose = ? AND is_used = ? AND is_expired = ?", identifier, purpose, false, false).
		Order("generated_at desc").
		First(&challenge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if !challenge.IsValid(now) {
		return nil, ErrChallengeInvalid
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(challenge.CodeHash)) != 1 {
		return s.recordFailedAttempt(&challenge)
	}

	result := s.db.Model(&OTPChallenge{}).
		Where("id = ? AND is_used = ? AND is_expired = ? AND attempt_count < max_attempts", challenge.ID, false, false).
		Updates(map[string]any{
			"is_used":     true,
			"verified_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark challenge used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// A concurrent verification terminated the challenge first.
		return nil, ErrChallengeInvalid
	}

	if s.logger != nil {
		s.logger.Info("OTP verified",
			zap.String("identifier", identifier),
			zap.String("purpose", string(purpose)))
	}

	return &VerifyResult{Verified: true}, nil
}

func (s *Service) recordFailedAttempt(challenge *OTPChallenge) (*VerifyResult, error) {
	result := s.db.Model(&OTPChallenge{}).
		Where("id = ? AND is_used = ? AND attempt_count < max_attempts", challenge.ID, false).
		Update("attempt_count", gorm.Expr("attempt_count + 1"))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to record verification attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrChallengeInvalid
	}

	var updated OTPChallenge
	if err := s.db.Where("id = ?", challenge.ID).First(&updated).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if updated.AttemptCount >= updated.MaxAttempts {
		s.db.Model(&OTPChallenge{}).
			Where("id = ?", challenge.ID).
			Update("is_expired", true)

		if s.logger != nil {
			s.logger.Warn("OTP challenge exhausted",
				zap.String("identifier", challenge.Identifier),
				zap.Int("max_attempts", updated.MaxAttempts))
		}

		return &VerifyResult{AttemptsRemaining: 0}, ErrMaxAttemptsExceeded
	}

	remaining := updated.MaxAttempts - updated.AttemptCount

	if s.logger != nil {
		s.logger.Debug("OTP verification failed",
			zap.String("identifier", challenge.Identifier),
			zap.Int("attempts_remaining", remaining))
	}

	return &VerifyResult{AttemptsRemaining: remaining}, fmt.Errorf("%w: %d attempts remaining", ErrCodeMismatch, remaining)
}

// CleanupExpired removes challenges and stale deliveries past their expiry,
// and throttle windows whose window and block have both elapsed.
func (s *Service) CleanupExpired() error {
	now := s.now()

	var expiredIDs []uint
	if err := s.db.Model(&OTPChallenge{}).
		Where("expires_at < ?", now).
		Pluck("id", &expiredIDs).Error; err != nil {
		return fmt.Errorf("failed to query expired challenges: %w", err)
	}

	if len(expiredIDs) > 0 {
		if err := s.db.Where("challenge_id IN ?", expiredIDs).Delete(&OTPDelivery{}).Error; err != nil {
			return fmt.Errorf("failed to cleanup deliveries: %w", err)
		}
		if err := s.db.Where("id IN ?", expiredIDs).Delete(&OTPChallenge{}).Error; err != nil {
			return fmt.Errorf("failed to cleanup challenges: %w", err)
		}
	}

	result := s.db.Where("window_end < ? AND (is_blocked = ? OR blocked_until < ?)", now, false, now).
		Delete(&ThrottleWindow{})
	if result.Error != nil {
		return fmt.Errorf("failed to cleanup throttle windows: %w", result.Error)
	}

	if s.logger != nil && (len(expiredIDs) > 0 || result.RowsAffected > 0) {
		s.logger.Info("OTP cleanup completed",
			zap.Int("challenges", len(expiredIDs)),
			zap.Int64("throttle_windows", result.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.OTP.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupExpired(); err != nil && s.logger != nil {
				s.logger.Error("OTP cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started OTP cleanup worker",
			zap.Duration("interval", s.config.OTP.CleanupInterval))
	}
}

func (s *Service) generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < s.config.OTP.CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", s.config.OTP.CodeLength, n), nil
}

func hashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	return hex.EncodeToString(hash[:])
}
