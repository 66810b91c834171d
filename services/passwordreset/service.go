package passwordreset

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrResetTokenInvalid     = errors.New("invalid or expired password reset token")
	ErrResetTokenUsed        = errors.New("password reset token has already been used")
	ErrResetTokenExpired     = errors.New("password reset token has expired")
	ErrPasswordReused        = errors.New("password was used recently and cannot be reused")
	ErrPasswordHashingFailed = errors.New("failed to hash password")
	ErrTokenGenerationFailed = errors.New("failed to generate secure token")
)

// SessionTerminator forces re-authentication after a credential change, on
// the reset transaction.
type SessionTerminator interface {
	TerminateAllSessionsInTx(tx *gorm.DB, userID uint, exceptSessionID, reason, initiatedBy string) (int64, error)
}

type PasswordResetService interface {
	CreateToken(userID uint, ip string) (*ResetTokenData, error)
	VerifyAndUse(rawToken, ip, userAgent string) (*PasswordResetToken, error)
	CheckReuse(userID uint, newPassword string) error
	Complete(rawToken, newPassword, ip, userAgent string) (*CompletionResult, error)
}

type Service struct {
	db         *gorm.DB
	config     *config.Config
	logger     *logging.Service
	terminator SessionTerminator
	now        func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service, terminator SessionTerminator) *Service {
	if logger != nil {
		logger.Info("initializing password reset service",
			zap.Duration("token_expiry", cfg.PasswordReset.Expiry),
			zap.Int("history_limit", cfg.PasswordReset.HistoryLimit))
	}

	return &Service{
		db:         db,
		config:     cfg,
		logger:     logger,
		terminator: terminator,
		now:        time.Now,
	}
}

// CreateToken invalidates every outstanding token for the user, then issues a
// new one. The raw value is returned once for delivery and never persisted as
// the validation artifact.
func (s *Service) CreateToken(userID uint, ip string) (*ResetTokenData, error) {
	raw, err := s.generateSecureToken()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate password reset token", zap.Error(err))
		}
		return nil, ErrTokenGenerationFailed
	}

	now := s.now()
	token := &PasswordResetToken{
		UserID:      userID,
		Token:       raw,
		TokenHash:   hashToken(raw),
		RequestedIP: ip,
		ExpiresAt:   now.Add(s.config.PasswordReset.Expiry),
		CreatedAt:   now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&PasswordResetToken{}).
			Where("user_id = ? AND is_used = ? AND is_expired = ?", userID, false, false).
			Update("is_expired", true).Error
		if err != nil {
			return fmt.Errorf("failed to invalidate previous reset tokens: %w", err)
		}

		return tx.Create(token).Error
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to create password reset token",
				zap.Uint("user_id", userID),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("password reset token created",
			zap.Uint("user_id", userID),
			zap.Time("expires_at", token.ExpiresAt))
	}

	return &ResetTokenData{Token: raw, ExpiresAt: token.ExpiresAt}, nil
}

// VerifyAndUse consumes a reset token, recording where it was used from.
func (s *Service) VerifyAndUse(rawToken, ip, userAgent string) (*PasswordResetToken, error) {
	var token *PasswordResetToken
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		token, err = s.verifyAndUseInTx(tx, rawToken, ip, userAgent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Service) verifyAndUseInTx(tx *gorm.DB, rawToken, ip, userAgent string) (*PasswordResetToken, error) {
	var token PasswordResetToken
	if err := tx.Where("token = ?", rawToken).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				s.logger.Warn("invalid password reset token attempted")
			}
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(hashToken(rawToken)), []byte(token.TokenHash)) != 1 {
		return nil, ErrResetTokenInvalid
	}

	now := s.now()
	if token.IsUsed {
		if s.logger != nil {
			s.logger.Warn("already used password reset token attempted",
				zap.Uint("user_id", token.UserID))
		}
		return nil, ErrResetTokenUsed
	}
	if token.IsExpired || !now.Before(token.ExpiresAt) {
		if s.logger != nil {
			s.logger.Warn("expired password reset token attempted",
				zap.Uint("user_id", token.UserID))
		}
		return nil, ErrResetTokenExpired
	}

	result := tx.Model(&PasswordResetToken{}).
		Where("id = ? AND is_used = ?", token.ID, false).
		Updates(map[string]any{
			"is_used":    true,
			"used_at":    now,
			"used_ip":    ip,
			"used_agent": userAgent,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark reset token used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrResetTokenUsed
	}

	token.IsUsed = true
	token.UsedAt = &now
	return &token, nil
}

// CheckReuse rejects a candidate password that matches any of the most recent
// history entries.
func (s *Service) CheckReuse(userID uint, newPassword string) error {
	return s.checkReuseInTx(s.db, userID, newPassword)
}

func (s *Service) checkReuseInTx(tx *gorm.DB, userID uint, newPassword string) error {
	var entries []PasswordHistoryEntry
	err := tx.Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(s.config.PasswordReset.HistoryLimit).
		Find(&entries).Error
	if err != nil {
		return fmt.Errorf("failed to load password history: %w", err)
	}

	for _, entry := range entries {
		if bcrypt.CompareHashAndPassword([]byte(entry.PasswordHash), []byte(newPassword)) == nil {
			if s.logger != nil {
				s.logger.Warn("password reuse rejected", zap.Uint("user_id", userID))
			}
			return ErrPasswordReused
		}
	}

	return nil
}

// Complete runs the whole reset as one transaction: consume the token, reject
// reuse, append history, and terminate every active session so the user must
// re-authenticate with the new credential.
func (s *Service) Complete(rawToken, newPassword, ip, userAgent string) (*CompletionResult, error) {
	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.config.PasswordReset.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return nil, ErrPasswordHashingFailed
	}

	var completion *CompletionResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		token, err := s.verifyAndUseInTx(tx, rawToken, ip, userAgent)
		if err != nil {
			return err
		}

		if err := s.checkReuseInTx(tx, token.UserID, newPassword); err != nil {
			return err
		}

		entry := &PasswordHistoryEntry{
			UserID:       token.UserID,
			PasswordHash: string(newHash),
			CreatedAt:    s.now(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append password history: %w", err)
		}

		var terminated int64
		if s.terminator != nil {
			terminated, err = s.terminator.TerminateAllSessionsInTx(tx, token.UserID, "", "Password reset", "password-reset")
			if err != nil {
				return err
			}
		}

		completion = &CompletionResult{
			UserID:             token.UserID,
			NewPasswordHash:    string(newHash),
			SessionsTerminated: terminated,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("password reset completed",
			zap.Uint("user_id", completion.UserID),
			zap.Int64("sessions_terminated", completion.SessionsTerminated))
	}

	return completion, nil
}

// CleanupExpired removes reset tokens past their expiry and trims history
// beyond the reuse window.
func (s *Service) CleanupExpired() error {
	result := s.db.Where("expires_at < ?", s.now()).Delete(&PasswordResetToken{})
	if result.Error != nil {
		return fmt.Errorf("failed to cleanup expired reset tokens: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("expired password reset tokens cleaned up",
			zap.Int64("tokens_removed", result.RowsAffected))
	}

	return nil
}

func (s *Service) generateSecureToken() (string, error) {
	bytes := make([]byte, s.config.PasswordReset.TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
