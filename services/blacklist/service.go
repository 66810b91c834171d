package blacklist

import (
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEntryNotFound = errors.New("blacklist entry not found")
)

type Service struct {
	db     *gorm.DB
	config *config.Config
	logger *logging.Service
	cache  *Cache
	now    func() time.Time
}

type BlacklistService interface {
	Blacklist(jti string, tokenType TokenType, tokenHash string, userID uint, expiresAt time.Time, reason, revokedBy string) (*BlacklistEntry, error)
	IsBlacklisted(jti string) (bool, error)
	RevokeAllForSession(sessionID string, userID uint, jtis []string, tokenHashes []string, expiries []time.Time, reason, initiatedBy string) (*RevocationRecord, error)
	CleanupExpired() error
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service, cache *Cache) *Service {
	if logger != nil {
		logger.Info("initializing blacklist service",
			zap.Duration("retention_period", cfg.Blacklist.RetentionPeriod),
			zap.Bool("cache_enabled", cache != nil))
	}

	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
		cache:  cache,
		now:    time.Now,
	}
}

// Blacklist records a revoked JTI. Inserting an already-blacklisted JTI is
// treated as success.
func (s *Service) Blacklist(jti string, tokenType TokenType, tokenHash string, userID uint, expiresAt time.Time, reason, revokedBy string) (*BlacklistEntry, error) {
	entry := &BlacklistEntry{
		JTI:           jti,
		TokenType:     tokenType,
		TokenHash:     tokenHash,
		UserID:        userID,
		Reason:        reason,
		RevokedBy:     revokedBy,
		ExpiresAt:     expiresAt,
		BlacklistedAt: s.now(),
	}

	if err := s.AddInTx(s.db, entry); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to blacklist token",
				zap.String("jti", jti),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to blacklist token: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("token blacklisted",
			zap.String("jti", jti),
			zap.String("token_type", string(tokenType)),
			zap.String("reason", reason))
	}

	return entry, nil
}

// AddInTx inserts a blacklist entry on the given handle, ignoring duplicate
// JTIs, and updates the cache best-effort. Callers compose it into larger
// transactions.
func (s *Service) AddInTx(tx *gorm.DB, entry *BlacklistEntry) error {
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = s.now()
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		DoNothing: true,
	}).Create(entry).Error
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.MarkRevoked(entry.JTI, time.Until(entry.ExpiresAt))
	}

	return nil
}

// IsBlacklisted reports whether the JTI appears on the deny list. The cache
// is consulted first when configured, but a miss always falls through to the
// ledger; the cache never decides a token is clean on its own.
func (s *Service) IsBlacklisted(jti string) (bool, error) {
	if s.cache != nil {
		if revoked, err := s.cache.IsRevoked(jti); err == nil && revoked {
			if s.logger != nil {
				s.logger.Debug("blacklist cache hit", zap.String("jti", jti))
			}
			return true, nil
		}
	}

	var count int64
	err := s.db.Model(&BlacklistEntry{}).Where("jti = ?", jti).Count(&count).Error
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to check blacklist", zap.String("jti", jti), zap.Error(err))
		}
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}

	if count > 0 && s.cache != nil {
		var entry BlacklistEntry
		if err := s.db.Where("jti = ?", jti).First(&entry).Error; err == nil {
			s.cache.MarkRevoked(jti, time.Until(entry.ExpiresAt))
		}
	}

	return count > 0, nil
}

// RecordRevocationInTx appends a single audit record for a bulk revocation.
func (s *Service) RecordRevocationInTx(tx *gorm.DB, scope RevocationScope, targetID string, userID uint, affected int64, initiatedBy string, forced bool, reason string) (*RevocationRecord, error) {
	record := &RevocationRecord{
		Scope:          scope,
		TargetID:       targetID,
		UserID:         userID,
		TokensAffected: affected,
		InitiatedBy:    initiatedBy,
		Forced:         forced,
		Reason:         reason,
	}

	if err := tx.Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// RevokeAllForSession blacklists every supplied token of one session and
// writes exactly one revocation record for the action.
func (s *Service) RevokeAllForSession(sessionID string, userID uint, jtis []string, tokenHashes []string, expiries []time.Time, reason, initiatedBy string) (*RevocationRecord, error) {
	var record *RevocationRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i, jti := range jtis {
			entry := &BlacklistEntry{
				JTI:       jti,
				TokenType: TokenTypeAccess,
				UserID:    userID,
				Reason:    reason,
				RevokedBy: initiatedBy,
				ExpiresAt: expiries[i],
			}
			if i < len(tokenHashes) {
				entry.TokenHash = tokenHashes[i]
			}
			if err := s.AddInTx(tx, entry); err != nil {
				return err
			}
		}

		var err error
		record, err = s.RecordRevocationInTx(tx, ScopeSession, sessionID, userID, int64(len(jtis)), initiatedBy, false, reason)
		return err
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke session tokens",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to revoke session tokens: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("session tokens revoked",
			zap.String("session_id", sessionID),
			zap.Int("count", len(jtis)))
	}

	return record, nil
}

// CleanupExpired purges entries whose original token expiry passed the
// retention threshold. The blacklist only needs to cover tokens that could
// still appear valid by their own expiry.
func (s *Service) CleanupExpired() error {
	cutoff := s.now().Add(-s.config.Blacklist.RetentionPeriod)

	result := s.db.Where("expires_at < ?", cutoff).Delete(&BlacklistEntry{})
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup expired blacklist entries", zap.Error(result.Error))
		}
		return fmt.Errorf("failed to cleanup expired blacklist entries: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up expired blacklist entries",
			zap.Int64("count", result.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.Blacklist.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupExpired(); err != nil && s.logger != nil {
				s.logger.Error("blacklist cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started blacklist cleanup worker",
			zap.Duration("interval", s.config.Blacklist.CleanupInterval))
	}
}
