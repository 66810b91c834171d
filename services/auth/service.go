package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"github.com/campuskit/authcore/services/otp"
	"github.com/campuskit/authcore/services/passwordreset"
	"github.com/campuskit/authcore/services/refreshtoken"
	"github.com/campuskit/authcore/services/security"
	"github.com/campuskit/authcore/services/tokenstore"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserNotFound       = errors.New("user not found")
)

// UserStore is the host application's credential source. The facade never
// owns user rows; it only reads hashes and writes the one produced by a
// completed password reset.
type UserStore interface {
	FindByIdentifier(identifier string) (*User, error)
	FindByID(userID uint) (*User, error)
	UpdatePasswordHash(userID uint, passwordHash string) error
}

// ResetNotifier delivers the password reset link out of band.
type ResetNotifier interface {
	SendPasswordReset(recipient, resetURL, expiry string) error
}

type AuthService interface {
	Login(identifier, password string, device tokenstore.DeviceInfo, ip string, rememberMe bool) (*LoginResult, error)
	Logout(sessionID string) error
	LogoutAll(userID uint, exceptSessionID string) (int64, error)
	Refresh(refreshToken string) (*RefreshResult, error)
	ValidateAccess(accessToken string) (*ValidationResult, error)
	SendOTP(identifier string, identifierType otp.IdentifierType, purpose otp.Purpose, ip string) (*otp.SendResult, error)
	VerifyOTP(identifier, code string, purpose otp.Purpose) (*otp.VerifyResult, error)
	InitiatePasswordReset(identifier, ip string) error
	CompletePasswordReset(token, newPassword, ip, userAgent string) error
}

type Service struct {
	db       *gorm.DB
	config   *config.Config
	logger   *logging.Service
	users    UserStore
	tokens   *tokenstore.Service
	refresh  *refreshtoken.Service
	otp      *otp.Service
	reset    *passwordreset.Service
	security *security.Service
	notifier ResetNotifier
	now      func() time.Time
}

func NewService(
	db *gorm.DB,
	cfg *config.Config,
	logger *logging.Service,
	users UserStore,
	tokens *tokenstore.Service,
	refresh *refreshtoken.Service,
	otpService *otp.Service,
	reset *passwordreset.Service,
	securityService *security.Service,
) *Service {
	return &Service{
		db:       db,
		config:   cfg,
		logger:   logger,
		users:    users,
		tokens:   tokens,
		refresh:  refresh,
		otp:      otpService,
		reset:    reset,
		security: securityService,
		now:      time.Now,
	}
}

func (s *Service) SetResetNotifier(notifier ResetNotifier) {
	s.notifier = notifier
}

// Login verifies the credential, records the attempt either way, and on
// success mints a session with a fresh access and refresh token pair. The
// failure reason is recorded for the analytics pipeline but the caller only
// ever sees ErrInvalidCredentials.
func (s *Service) Login(identifier, password string, device tokenstore.DeviceInfo, ip string, rememberMe bool) (*LoginResult, error) {
	user, err := s.users.FindByIdentifier(identifier)
	if err != nil {
		s.recordAttempt(identifier, 0, false, "unknown identifier", ip, device, 0)
		return nil, ErrInvalidCredentials
	}

	if user.Disabled {
		s.recordAttempt(identifier, user.ID, false, "account disabled", ip, device, 0)
		return nil, ErrAccountDisabled
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		risk := s.security.ComputeLoginRisk(user.ID, ip)
		s.recordAttempt(identifier, user.ID, false, "password mismatch", ip, device, risk)
		return nil, ErrInvalidCredentials
	}

	risk := s.security.ComputeLoginRisk(user.ID, ip)
	s.recordAttempt(identifier, user.ID, true, "", ip, device, risk)

	session, err := s.tokens.CreateSession(user.ID, device, ip, rememberMe, risk)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(session.ID)
	if err != nil {
		return nil, err
	}

	refreshData, err := s.refresh.Issue(session.ID, user.ID, "", nil, rememberMe)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("login succeeded",
			zap.Uint("user_id", user.ID),
			zap.String("session_id", session.ID),
			zap.Float64("risk_score", risk))
	}

	return &LoginResult{
		User:         user,
		Session:      session,
		AccessToken:  access,
		RefreshToken: refreshData,
		RiskScore:    risk,
	}, nil
}

func (s *Service) recordAttempt(identifier string, userID uint, success bool, failureReason, ip string, device tokenstore.DeviceInfo, risk float64) {
	attempt := &security.LoginAttempt{
		Identifier:        identifier,
		UserID:            userID,
		Success:           success,
		FailureReason:     failureReason,
		IPAddress:         ip,
		UserAgent:         device.UserAgent,
		DeviceFingerprint: device.Fingerprint,
		RiskScore:         risk,
		AttemptedAt:       s.now(),
	}
	if err := s.security.RecordLoginAttempt(attempt); err != nil && s.logger != nil {
		s.logger.Error("failed to record login attempt", zap.Error(err))
	}
}

func (s *Service) Logout(sessionID string) error {
	return s.tokens.TerminateSession(sessionID, true)
}

func (s *Service) LogoutAll(userID uint, exceptSessionID string) (int64, error) {
	return s.tokens.TerminateAllSessions(userID, exceptSessionID)
}

// Refresh rotates the refresh token and issues a fresh access token for the
// same session. Reuse detection errors pass through unchanged so callers can
// distinguish a breach from an ordinary expiry.
func (s *Service) Refresh(refreshToken string) (*RefreshResult, error) {
	rotation, err := s.refresh.Rotate(refreshToken)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(rotation.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.UpdateActivity(rotation.SessionID); err != nil && s.logger != nil {
		s.logger.Warn("failed to bump session activity on refresh",
			zap.String("session_id", rotation.SessionID),
			zap.Error(err))
	}

	return &RefreshResult{
		SessionID:    rotation.SessionID,
		UserID:       rotation.UserID,
		AccessToken:  access,
		RefreshToken: rotation.NewToken,
	}, nil
}

// ValidateAccess checks an access token end to end and bumps the session
// activity heartbeat on success.
func (s *Service) ValidateAccess(accessToken string) (*ValidationResult, error) {
	claims, record, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.UpdateActivity(claims.SessionID); err != nil && s.logger != nil {
		s.logger.Warn("failed to bump session activity",
			zap.String("session_id", claims.SessionID),
			zap.Error(err))
	}

	return &ValidationResult{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Scopes:    claims.Scopes,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) SendOTP(identifier string, identifierType otp.IdentifierType, purpose otp.Purpose, ip string) (*otp.SendResult, error) {
	return s.otp.Send(identifier, identifierType, purpose, ip)
}

func (s *Service) VerifyOTP(identifier, code string, purpose otp.Purpose) (*otp.VerifyResult, error) {
	return s.otp.Verify(identifier, code, purpose)
}

// InitiatePasswordReset always reports success to the caller. Whether the
// identifier maps to an account is not observable from the response.
func (s *Service) InitiatePasswordReset(identifier, ip string) error {
	user, err := s.users.FindByIdentifier(identifier)
	if err != nil {
		if s.logger != nil {
			s.logger.Info("password reset requested for unknown identifier")
		}
		return nil
	}

	data, err := s.reset.CreateToken(user.ID, ip)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to create reset token",
				zap.Uint("user_id", user.ID),
				zap.Error(err))
		}
		return nil
	}

	if s.notifier != nil && user.Email != "" {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.config.App.URL, data.Token)
		expiry := data.ExpiresAt.Format(time.RFC3339)
		if err := s.notifier.SendPasswordReset(user.Email, resetURL, expiry); err != nil && s.logger != nil {
			s.logger.Error("failed to send reset notification",
				zap.Uint("user_id", user.ID),
				zap.Error(err))
		}
	}

	return nil
}

// CompletePasswordReset consumes the token, rotates the credential, and
// pushes the new hash back to the host's user store.
func (s *Service) CompletePasswordReset(token, newPassword, ip, userAgent string) error {
	completion, err := s.reset.Complete(token, newPassword, ip, userAgent)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePasswordHash(completion.UserID, completion.NewPasswordHash); err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}

	event := &security.SecurityEvent{
		EventType:   "password_reset_completed",
		Severity:    security.SeverityMedium,
		Description: "Password reset completed; all sessions terminated",
		UserID:      completion.UserID,
		IPAddress:   ip,
		UserAgent:   userAgent,
	}
	if err := s.security.RecordEvent(event); err != nil && s.logger != nil {
		s.logger.Error("failed to record password reset event", zap.Error(err))
	}

	return nil
}

func (s *Service) ActiveSessions(userID uint, currentSessionID string) ([]tokenstore.Session, error) {
	return s.tokens.FindActiveSessions(userID, currentSessionID)
}
