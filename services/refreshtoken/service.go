package refreshtoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/blacklist"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrRefreshTokenRevoked   = errors.New("refresh token has been revoked")
	ErrTokenReuseDetected    = errors.New("refresh token reuse detected")
	ErrTokenGenerationFailed = errors.New("failed to generate secure token")

	// errRotationConflict marks the loser of a concurrent rotation race.
	errRotationConflict = errors.New("refresh token already consumed")
)

const reuseRevocationReason = "Token reuse detected - possible security breach"

// Blacklister is the slice of the revocation ledger the rotation engine uses
// during family revocation.
type Blacklister interface {
	AddInTx(tx *gorm.DB, entry *blacklist.BlacklistEntry) error
	RecordRevocationInTx(tx *gorm.DB, scope blacklist.RevocationScope, targetID string, userID uint, affected int64, initiatedBy string, forced bool, reason string) (*blacklist.RevocationRecord, error)
}

// EventRecorder reports the breach signal produced by reuse detection.
type EventRecorder interface {
	RecordEventInTx(tx *gorm.DB, event *security.SecurityEvent) error
}

type RefreshTokenService interface {
	Issue(sessionID string, userID uint, familyID string, parent *RefreshToken, rememberMe bool) (*RefreshTokenData, error)
	Rotate(tokenString string) (*RotationResult, error)
	DetectReuse(token *RefreshToken) error
	RevokeFamily(familyID, reason string) (int64, error)
	CleanupExpired() error
}

type Service struct {
	db       *gorm.DB
	config   *config.Config
	logger   *logging.Service
	ledger   Blacklister
	recorder EventRecorder
	now      func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service, ledger Blacklister, recorder EventRecorder) *Service {
	if logger != nil {
		logger.Info("initializing refresh token service",
			zap.Duration("token_expiry", cfg.RefreshToken.Expiry),
			zap.Duration("remember_me_expiry", cfg.RefreshToken.RememberMeExpiry),
			zap.Int("token_length", cfg.RefreshToken.TokenLength))
	}

	return &Service{
		db:       db,
		config:   cfg,
		logger:   logger,
		ledger:   ledger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Issue creates a new refresh token. With a parent, the token joins the
// parent's family and its rotation count advances; without one it starts a
// fresh family (rotation count 0).
func (s *Service) Issue(sessionID string, userID uint, familyID string, parent *RefreshToken, rememberMe bool) (*RefreshTokenData, error) {
	var data *RefreshTokenData
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		data, err = s.issueInTx(tx, sessionID, userID, familyID, parent, rememberMe)
		return err
	})
	return data, err
}

func (s *Service) issueInTx(tx *gorm.DB, sessionID string, userID uint, familyID string, parent *RefreshToken, rememberMe bool) (*RefreshTokenData, error) {
	raw, err := s.generateSecureToken()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate secure refresh token", zap.Error(err))
		}
		return nil, ErrTokenGenerationFailed
	}

	if familyID == "" {
		familyID = uuid.NewString()
	}

	expiry := s.config.RefreshToken.Expiry
	if rememberMe {
		expiry = s.config.RefreshToken.RememberMeExpiry
	}

	now := s.now()
	token := &RefreshToken{
		JTI:          uuid.NewString(),
		SessionID:    sessionID,
		UserID:       userID,
		FamilyID:     familyID,
		TokenHash:    hashToken(raw),
		IsRememberMe: rememberMe,
		ExpiresAt:    now.Add(expiry),
		CreatedAt:    now,
	}
	if parent != nil {
		token.ParentJTI = parent.JTI
		token.RotationCount = parent.RotationCount + 1
	}

	if err := tx.Create(token).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store refresh token", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("refresh token issued",
			zap.String("jti", token.JTI),
			zap.String("family_id", familyID),
			zap.Int("rotation_count", token.RotationCount))
	}

	return &RefreshTokenData{
		Token:     raw,
		JTI:       token.JTI,
		FamilyID:  familyID,
		Hash:      token.TokenHash,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Rotate consumes a refresh token and issues its successor in the same
// family as one transaction. The reuse check runs before consumption, and
// the consume itself is a guarded update so concurrent replays of the same
// token produce exactly one rotation and one breach signal.
func (s *Service) Rotate(tokenString string) (*RotationResult, error) {
	token, err := s.findByHash(tokenString)
	if err != nil {
		return nil, err
	}

	now := s.now()

	if token.IsUsed {
		if err := s.DetectReuse(token); err != nil {
			return nil, err
		}
		return nil, ErrTokenReuseDetected
	}
	if token.IsRevoked {
		if s.logger != nil {
			s.logger.Warn("rotation attempted with revoked refresh token",
				zap.String("jti", token.JTI),
				zap.String("family_id", token.FamilyID))
		}
		return nil, ErrRefreshTokenRevoked
	}
	if !now.Before(token.ExpiresAt) {
		return nil, ErrRefreshTokenExpired
	}

	var successor *RefreshTokenData
	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RefreshToken{}).
			Where("jti = ? AND is_used = ? AND is_revoked = ?", token.JTI, false, false).
			Updates(map[string]any{
				"is_used": true,
				"used_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errRotationConflict
		}

		var err error
		successor, err = s.issueInTx(tx, token.SessionID, token.UserID, token.FamilyID, token, token.IsRememberMe)
		return err
	})
	if err != nil {
		if errors.Is(err, errRotationConflict) {
			// A concurrent caller won the race; this presentation is a replay.
			if reuseErr := s.DetectReuse(token); reuseErr != nil {
				return nil, reuseErr
			}
			return nil, ErrTokenReuseDetected
		}
		if s.logger != nil {
			s.logger.Error("refresh token rotation failed",
				zap.String("jti", token.JTI),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("refresh token rotated",
			zap.String("old_jti", token.JTI),
			zap.String("new_jti", successor.JTI),
			zap.String("family_id", token.FamilyID))
	}

	return &RotationResult{
		OldJTI:        token.JTI,
		NewToken:      successor,
		SessionID:     token.SessionID,
		UserID:        token.UserID,
		RotationCount: token.RotationCount + 1,
	}, nil
}

// DetectReuse handles the presentation of an already-consumed token: the
// entire family is revoked and blacklisted and a critical security event is
// written. These side effects are committed even though the calling refresh
// workflow will report failure.
func (s *Service) DetectReuse(token *RefreshToken) error {
	if s.logger != nil {
		s.logger.Warn("refresh token reuse detected",
			zap.String("jti", token.JTI),
			zap.String("family_id", token.FamilyID),
			zap.Uint("user_id", token.UserID))
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		affected, err := s.revokeFamilyInTx(tx, token.FamilyID, token.UserID, reuseRevocationReason)
		if err != nil {
			return err
		}

		if s.recorder != nil {
			event := &security.SecurityEvent{
				EventType:   "refresh_token_reuse",
				Severity:    security.SeverityCritical,
				Description: fmt.Sprintf("reuse of consumed refresh token %s; family %s revoked (%d tokens)", token.JTI, token.FamilyID, affected),
				UserID:      token.UserID,
				RiskScore:   100,
			}
			if err := s.recorder.RecordEventInTx(tx, event); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke token family after reuse",
				zap.String("family_id", token.FamilyID),
				zap.Error(err))
		}
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	return nil
}

// RevokeFamily revokes every token sharing the family id, whatever their
// individual state.
func (s *Service) RevokeFamily(familyID, reason string) (int64, error) {
	var affected int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var token RefreshToken
		userID := uint(0)
		if err := tx.Where("family_id = ?", familyID).First(&token).Error; err == nil {
			userID = token.UserID
		}

		var err error
		affected, err = s.revokeFamilyInTx(tx, familyID, userID, reason)
		return err
	})
	return affected, err
}

func (s *Service) revokeFamilyInTx(tx *gorm.DB, familyID string, userID uint, reason string) (int64, error) {
	var tokens []RefreshToken
	if err := tx.Where("family_id = ?", familyID).Find(&tokens).Error; err != nil {
		return 0, fmt.Errorf("failed to load token family: %w", err)
	}

	now := s.now()
	result := tx.Model(&RefreshToken{}).
		Where("family_id = ? AND is_revoked = ?", familyID, false).
		Updates(map[string]any{
			"is_revoked":     true,
			"revoked_reason": reason,
			"revoked_at":     now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", result.Error)
	}

	for _, t := range tokens {
		entry := &blacklist.BlacklistEntry{
			JTI:       t.JTI,
			TokenType: blacklist.TokenTypeRefresh,
			TokenHash: t.TokenHash,
			UserID:    t.UserID,
			Reason:    reason,
			RevokedBy: "system",
			ExpiresAt: t.ExpiresAt,
		}
		if err := s.ledger.AddInTx(tx, entry); err != nil {
			return 0, err
		}
	}

	if _, err := s.ledger.RecordRevocationInTx(tx, blacklist.ScopeFamily, familyID, userID, int64(len(tokens)), "system", true, reason); err != nil {
		return 0, err
	}

	if s.logger != nil {
		s.logger.Info("refresh token family revoked",
			zap.String("family_id", familyID),
			zap.Int("tokens", len(tokens)),
			zap.String("reason", reason))
	}

	return int64(len(tokens)), nil
}

// RevokeAllForSessionInTx revokes the session's refresh tokens on the given
// handle and reports their identities so the caller can blacklist them in the
// same unit. Used by session termination.
func (s *Service) RevokeAllForSessionInTx(tx *gorm.DB, sessionID, reason string) ([]string, []time.Time, error) {
	var tokens []RefreshToken
	if err := tx.Where("session_id = ? AND is_revoked = ?", sessionID, false).Find(&tokens).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load session refresh tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil, nil
	}

	now := s.now()
	err := tx.Model(&RefreshToken{}).
		Where("session_id = ? AND is_revoked = ?", sessionID, false).
		Updates(map[string]any{
			"is_revoked":     true,
			"revoked_reason": reason,
			"revoked_at":     now,
		}).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to revoke session refresh tokens: %w", err)
	}

	jtis := make([]string, len(tokens))
	expiries := make([]time.Time, len(tokens))
	for i, t := range tokens {
		jtis[i] = t.JTI
		expiries[i] = t.ExpiresAt
	}

	return jtis, expiries, nil
}

func (s *Service) findByHash(tokenString string) (*RefreshToken, error) {
	var token RefreshToken
	err := s.db.Where("token_hash = ?", hashToken(tokenString)).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				s.logger.Warn("refresh token lookup failed - token not found")
			}
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &token, nil
}

func (s *Service) CleanupExpired() error {
	result := s.db.Where("expires_at < ?", s.now()).Delete(&RefreshToken{})
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup expired refresh tokens", zap.Error(result.Error))
		}
		return fmt.Errorf("failed to cleanup expired tokens: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up expired refresh tokens",
			zap.Int64("count", result.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.RefreshToken.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupExpired(); err != nil && s.logger != nil {
				s.logger.Error("refresh token cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started refresh token cleanup worker",
			zap.Duration("interval", s.config.RefreshToken.CleanupInterval))
	}
}

func (s *Service) generateSecureToken() (string, error) {
	tokenBytes := make([]byte, s.config.RefreshToken.TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
