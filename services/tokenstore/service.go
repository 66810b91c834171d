package tokenstore

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/blacklist"
	"github.com/campuskit/authcore/services/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionInactive       = errors.New("session is no longer active")
	ErrSessionExpired        = errors.New("session has expired")
	ErrAccessTokenNotFound   = errors.New("access token not found")
	ErrAccessTokenInvalid    = errors.New("invalid access token")
	ErrAccessTokenExpired    = errors.New("access token has expired")
	ErrAccessTokenRevoked    = errors.New("access token has been revoked")
	ErrTokenGenerationFailed = errors.New("failed to generate access token")
)

const sessionTerminatedReason = "Session terminated"

type Claims struct {
	UserID    uint   `json:"user_id"`
	SessionID string `json:"session_id"`
	Scopes    string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Blacklister is the slice of the revocation ledger the token store needs.
type Blacklister interface {
	AddInTx(tx *gorm.DB, entry *blacklist.BlacklistEntry) error
	RecordRevocationInTx(tx *gorm.DB, scope blacklist.RevocationScope, targetID string, userID uint, affected int64, initiatedBy string, forced bool, reason string) (*blacklist.RevocationRecord, error)
	IsBlacklisted(jti string) (bool, error)
}

// RefreshRevoker revokes every refresh token of a session on the supplied
// transaction and reports what it revoked so the entries can be blacklisted
// in the same unit.
type RefreshRevoker interface {
	RevokeAllForSessionInTx(tx *gorm.DB, sessionID, reason string) (jtis []string, expiries []time.Time, err error)
}

// GeoLookup resolves network metadata for new sessions. Real GeoIP parsing
// lives outside this module.
type GeoLookup interface {
	Lookup(ip string) (country, city, timezone string)
}

type noopGeoLookup struct{}

func (noopGeoLookup) Lookup(string) (string, string, string) { return "", "", "" }

type TokenStoreService interface {
	CreateSession(userID uint, device DeviceInfo, ip string, rememberMe bool, riskScore float64) (*Session, error)
	IssueAccessToken(sessionID string) (*AccessTokenData, error)
	ValidateAccessToken(tokenString string) (*Claims, *AccessToken, error)
	UpdateActivity(sessionID string) error
	TerminateSession(sessionID string, revokeTokens bool) error
	TerminateAllSessions(userID uint, exceptSessionID string) (int64, error)
	FindActiveSessions(userID uint, currentSessionID string) ([]Session, error)
	CleanupExpiredSessions() error
}

type Service struct {
	db             *gorm.DB
	config         *config.Config
	logger         *logging.Service
	blacklister    Blacklister
	refreshRevoker RefreshRevoker
	geo            GeoLookup
	now            func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service, blacklister Blacklister, refreshRevoker RefreshRevoker) *Service {
	if logger != nil {
		logger.Info("initializing token store service",
			zap.Duration("session_expiry", cfg.Session.Expiry),
			zap.Duration("remember_me_expiry", cfg.Session.RememberMeExpiry),
			zap.Duration("access_token_expiry", cfg.AccessToken.Expiry))
	}

	return &Service{
		db:             db,
		config:         cfg,
		logger:         logger,
		blacklister:    blacklister,
		refreshRevoker: refreshRevoker,
		geo:            noopGeoLookup{},
		now:            time.Now,
	}
}

func (s *Service) SetGeoLookup(geo GeoLookup) {
	if geo != nil {
		s.geo = geo
	}
}

func (s *Service) CreateSession(userID uint, device DeviceInfo, ip string, rememberMe bool, riskScore float64) (*Session, error) {
	now := s.now()
	expiry := s.config.Session.Expiry
	if rememberMe {
		expiry = s.config.Session.RememberMeExpiry
	}

	browser, os := parseUserAgent(device.UserAgent)
	country, city, timezone := s.geo.Lookup(ip)

	session := &Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		DeviceName:        device.Name,
		DeviceType:        device.Type,
		DeviceFingerprint: device.Fingerprint,
		UserAgent:         device.UserAgent,
		Browser:           browser,
		OS:                os,
		IPAddress:         ip,
		Country:           country,
		City:              city,
		Timezone:          timezone,
		IsActive:          true,
		IsRememberMe:      rememberMe,
		RiskScore:         riskScore,
		LoginAt:           now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(expiry),
	}

	if err := s.db.Create(session).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to create session",
				zap.Uint("user_id", userID),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("session created",
			zap.String("session_id", session.ID),
			zap.Uint("user_id", userID),
			zap.Bool("remember_me", rememberMe),
			zap.Time("expires_at", session.ExpiresAt))
	}

	return session, nil
}

func (s *Service) IssueAccessToken(sessionID string) (*AccessTokenData, error) {
	var session Session
	if err := s.db.Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	now := s.now()
	if !session.IsValid(now) {
		if s.logger != nil {
			s.logger.Warn("access token requested for invalid session",
				zap.String("session_id", sessionID),
				zap.Bool("is_active", session.IsActive))
		}
		return nil, ErrSessionInactive
	}

	jti := uuid.NewString()
	expiresAt := now.Add(s.config.AccessToken.Expiry)

	claims := Claims{
		UserID:    session.UserID,
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.AccessToken.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessToken.SigningSecret))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to sign access token", zap.Error(err))
		}
		return nil, ErrTokenGenerationFailed
	}

	hash := hashToken(signed)
	record := &AccessToken{
		JTI:       jti,
		SessionID: session.ID,
		UserID:    session.UserID,
		TokenHash: hash,
		ExpiresAt: expiresAt,
	}

	if err := s.db.Create(record).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store access token", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("access token issued",
			zap.String("jti", jti),
			zap.String("session_id", session.ID),
			zap.Time("expires_at", expiresAt))
	}

	return &AccessTokenData{
		Token:     signed,
		JTI:       jti,
		Hash:      hash,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateAccessToken verifies the signature, then the blacklist, then the
// stored token row. The blacklist is checked even though the row carries its
// own revoked flag: a token minted before a bulk revocation may not.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, *AccessToken, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.AccessToken.SigningSecret), nil
	})
	if err != nil || !parsed.Valid {
		if s.logger != nil {
			s.logger.Warn("access token validation failed - parse error", zap.Error(err))
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, ErrAccessTokenExpired
		}
		return nil, nil, ErrAccessTokenInvalid
	}

	jti := claims.ID

	revoked, err := s.blacklister.IsBlacklisted(jti)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		if s.logger != nil {
			s.logger.Warn("access token validation failed - blacklisted",
				zap.String("jti", jti))
		}
		return nil, nil, ErrAccessTokenRevoked
	}

	var record AccessToken
	if err := s.db.Where("jti = ?", jti).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrAccessTokenNotFound
		}
		return nil, nil, fmt.Errorf("database error: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(hashToken(tokenString)), []byte(record.TokenHash)) != 1 {
		return nil, nil, ErrAccessTokenInvalid
	}

	now := s.now()
	if record.IsRevoked {
		return nil, nil, ErrAccessTokenRevoked
	}
	if !now.Before(record.ExpiresAt) {
		return nil, nil, ErrAccessTokenExpired
	}

	return claims, &record, nil
}

// UpdateActivity bumps the activity heartbeat. Inactive sessions are left
// untouched.
func (s *Service) UpdateActivity(sessionID string) error {
	result := s.db.Model(&Session{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Update("last_activity_at", s.now())

	if result.Error != nil {
		if s.logger != nil {
			s.logger.Warn("failed to update session activity",
				zap.String("session_id", sessionID),
				zap.Error(result.Error))
		}
		return fmt.Errorf("failed to update session activity: %w", result.Error)
	}

	return nil
}

// TerminateSession deactivates the session and, when revokeTokens is set,
// revokes and blacklists every token issued under it. The whole update is a
// single transaction so a dead session can never keep live tokens.
func (s *Service) TerminateSession(sessionID string, revokeTokens bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var session Session
		if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("database error: %w", err)
		}

		affected, err := s.terminateSessionInTx(tx, &session, revokeTokens, sessionTerminatedReason, "system")
		if err != nil {
			return err
		}

		if revokeTokens {
			if _, err := s.blacklister.RecordRevocationInTx(tx, blacklist.ScopeSession, sessionID, session.UserID, affected, "system", false, sessionTerminatedReason); err != nil {
				return err
			}
		}

		if s.logger != nil {
			s.logger.Info("session terminated",
				zap.String("session_id", sessionID),
				zap.Uint("user_id", session.UserID),
				zap.Int64("tokens_revoked", affected))
		}

		return nil
	})
}

// TerminateAllSessions terminates every active session of the user except the
// given one, producing a single user-scoped revocation record.
func (s *Service) TerminateAllSessions(userID uint, exceptSessionID string) (int64, error) {
	var terminated int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		terminated, err = s.TerminateAllSessionsInTx(tx, userID, exceptSessionID, "Logout from all devices", "user")
		return err
	})
	if err != nil {
		return 0, err
	}

	if s.logger != nil {
		s.logger.Info("all user sessions terminated",
			zap.Uint("user_id", userID),
			zap.Int64("sessions", terminated))
	}

	return terminated, nil
}

// TerminateAllSessionsInTx is the transactional core of TerminateAllSessions,
// exposed so the password-reset flow can force re-authentication inside its
// own transaction.
func (s *Service) TerminateAllSessionsInTx(tx *gorm.DB, userID uint, exceptSessionID, reason, initiatedBy string) (int64, error) {
	var sessions []Session
	query := tx.Where("user_id = ? AND is_active = ?", userID, true)
	if exceptSessionID != "" {
		query = query.Where("id <> ?", exceptSessionID)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("failed to load active sessions: %w", err)
	}

	var tokensRevoked int64
	for i := range sessions {
		affected, err := s.terminateSessionInTx(tx, &sessions[i], true, reason, initiatedBy)
		if err != nil {
			return 0, err
		}
		tokensRevoked += affected
	}

	if len(sessions) > 0 {
		if _, err := s.blacklister.RecordRevocationInTx(tx, blacklist.ScopeUser, fmt.Sprintf("%d", userID), userID, tokensRevoked, initiatedBy, true, reason); err != nil {
			return 0, err
		}
	}

	return int64(len(sessions)), nil
}

func (s *Service) terminateSessionInTx(tx *gorm.DB, session *Session, revokeTokens bool, reason, initiatedBy string) (int64, error) {
	now := s.now()

	if session.IsActive {
		err := tx.Model(&Session{}).
			Where("id = ?", session.ID).
			Updates(map[string]any{
				"is_active": false,
				"logout_at": now,
			}).Error
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate session: %w", err)
		}
	}

	if !revokeTokens {
		return 0, nil
	}

	var tokens []AccessToken
	if err := tx.Where("session_id = ? AND is_revoked = ?", session.ID, false).Find(&tokens).Error; err != nil {
		return 0, fmt.Errorf("failed to load session access tokens: %w", err)
	}

	if len(tokens) > 0 {
		err := tx.Model(&AccessToken{}).
			Where("session_id = ? AND is_revoked = ?", session.ID, false).
			Updates(map[string]any{
				"is_revoked":     true,
				"revoked_reason": reason,
				"revoked_at":     now,
			}).Error
		if err != nil {
			return 0, fmt.Errorf("failed to revoke session access tokens: %w", err)
		}

		for _, token := range tokens {
			entry := &blacklist.BlacklistEntry{
				JTI:       token.JTI,
				TokenType: blacklist.TokenTypeAccess,
				TokenHash: token.TokenHash,
				UserID:    session.UserID,
				Reason:    reason,
				RevokedBy: initiatedBy,
				ExpiresAt: token.ExpiresAt,
			}
			if err := s.blacklister.AddInTx(tx, entry); err != nil {
				return 0, err
			}
		}
	}

	affected := int64(len(tokens))

	if s.refreshRevoker != nil {
		jtis, expiries, err := s.refreshRevoker.RevokeAllForSessionInTx(tx, session.ID, reason)
		if err != nil {
			return 0, err
		}
		for i, jti := range jtis {
			entry := &blacklist.BlacklistEntry{
				JTI:       jti,
				TokenType: blacklist.TokenTypeRefresh,
				UserID:    session.UserID,
				Reason:    reason,
				RevokedBy: initiatedBy,
				ExpiresAt: expiries[i],
			}
			if err := s.blacklister.AddInTx(tx, entry); err != nil {
				return 0, err
			}
		}
		affected += int64(len(jtis))
	}

	return affected, nil
}

func (s *Service) FindActiveSessions(userID uint, currentSessionID string) ([]Session, error) {
	var sessions []Session
	err := s.db.Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, s.now()).
		Order("last_activity_at desc").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	for i := range sessions {
		sessions[i].Current = sessions[i].ID == currentSessionID
	}

	return sessions, nil
}

// CleanupExpiredSessions deactivates sessions past their expiry and hard
// deletes only rows past the retention window.
func (s *Service) CleanupExpiredSessions() error {
	now := s.now()

	result := s.db.Model(&Session{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{
			"is_active": false,
			"logout_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to expire sessions: %w", result.Error)
	}

	expired := result.RowsAffected

	cutoff := now.Add(-s.config.Session.RetentionPeriod)
	purge := s.db.Where("is_active = ? AND logout_at IS NOT NULL AND logout_at < ?", false, cutoff).
		Delete(&Session{})
	if purge.Error != nil {
		return fmt.Errorf("failed to purge old sessions: %w", purge.Error)
	}

	if s.logger != nil && (expired > 0 || purge.RowsAffected > 0) {
		s.logger.Info("session cleanup completed",
			zap.Int64("expired", expired),
			zap.Int64("purged", purge.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.Session.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupExpiredSessions(); err != nil && s.logger != nil {
				s.logger.Error("session cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started session cleanup worker",
			zap.Duration("interval", s.config.Session.CleanupInterval))
	}
}

func parseUserAgent(ua string) (browser, os string) {
	if ua == "" {
		return "", ""
	}
	parsed := useragent.Parse(ua)
	return parsed.Name, parsed.OS
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
