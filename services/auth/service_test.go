package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/blacklist"
	"github.com/campuskit/authcore/services/otp"
	"github.com/campuskit/authcore/services/passwordreset"
	"github.com/campuskit/authcore/services/refreshtoken"
	"github.com/campuskit/authcore/services/security"
	"github.com/campuskit/authcore/services/tokenstore"
	"github.com/campuskit/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func getTestAuthConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "authcore",
			URL:  "http://localhost:8080",
		},
		Session: config.SessionConfig{
			Expiry:           24 * time.Hour,
			RememberMeExpiry: 720 * time.Hour,
			RetentionPeriod:  90 * 24 * time.Hour,
		},
		AccessToken: config.AccessTokenConfig{
			Expiry:        15 * time.Minute,
			SigningSecret: "test-signing-secret",
			Issuer:        "authcore-test",
		},
		RefreshToken: config.RefreshTokenConfig{
			Expiry:           168 * time.Hour,
			RememberMeExpiry: 720 * time.Hour,
			TokenLength:      32,
		},
		Blacklist: config.BlacklistConfig{
			RetentionPeriod: 168 * time.Hour,
		},
		OTP: config.OTPConfig{
			CodeLength:            6,
			Expiry:                10 * time.Minute,
			MaxAttempts:           3,
			ThrottleMaxRequests:   5,
			ThrottleWindow:        time.Hour,
			ThrottleBlockDuration: time.Hour,
		},
		PasswordReset: config.PasswordResetConfig{
			TokenLength:  32,
			Expiry:       time.Hour,
			HistoryLimit: 5,
			BcryptCost:   bcrypt.MinCost,
		},
		Security: config.SecurityConfig{
			FailedLoginWindow: 24 * time.Hour,
			ActivityWindow:    168 * time.Hour,
			EventWindow:       720 * time.Hour,
		},
	}
}

type mockUserStore struct {
	users          map[string]*User
	updatedUserID  uint
	updatedHash    string
	updateErr      error
	lookupFailures int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: map[string]*User{}}
}

func (m *mockUserStore) addUser(t *testing.T, id uint, identifier, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &User{ID: id, Identifier: identifier, Email: identifier, PasswordHash: string(hash)}
	m.users[identifier] = user
	return user
}

func (m *mockUserStore) FindByIdentifier(identifier string) (*User, error) {
	user, ok := m.users[identifier]
	if !ok {
		m.lookupFailures++
		return nil, errors.New("user not found")
	}
	return user, nil
}

func (m *mockUserStore) FindByID(userID uint) (*User, error) {
	for _, user := range m.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return nil, errors.New("user not found")
}

func (m *mockUserStore) UpdatePasswordHash(userID uint, passwordHash string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updatedUserID = userID
	m.updatedHash = passwordHash
	for _, user := range m.users {
		if user.ID == userID {
			user.PasswordHash = passwordHash
		}
	}
	return nil
}

type mockNotifier struct {
	calls     int
	recipient string
	resetURL  string
}

func (m *mockNotifier) SendPasswordReset(recipient, resetURL, expiry string) error {
	m.calls++
	m.recipient = recipient
	m.resetURL = resetURL
	return nil
}

func setupAuthService(t *testing.T) (*Service, *mockUserStore, *gorm.DB) {
	db := testutils.SetupTestDB(t,
		&tokenstore.Session{}, &tokenstore.AccessToken{},
		&refreshtoken.RefreshToken{},
		&blacklist.BlacklistEntry{}, &blacklist.RevocationRecord{},
		&otp.OTPChallenge{}, &otp.OTPDelivery{}, &otp.ThrottleWindow{},
		&passwordreset.PasswordResetToken{}, &passwordreset.PasswordHistoryEntry{},
		&security.LoginAttempt{}, &security.SecurityEvent{},
	)

	cfg := getTestAuthConfig()
	bl := blacklist.NewService(db, cfg, nil, nil)
	sec := security.NewService(db, cfg, nil)
	rt := refreshtoken.NewService(db, cfg, nil, bl, sec)
	ts := tokenstore.NewService(db, cfg, nil, bl, rt)
	otpSvc := otp.NewService(db, cfg, nil)
	reset := passwordreset.NewService(db, cfg, nil, ts)
	users := newMockUserStore()

	service := NewService(db, cfg, nil, users, ts, rt, otpSvc, reset, sec)
	return service, users, db
}

func testDevice() tokenstore.DeviceInfo {
	return tokenstore.DeviceInfo{
		Name:        "Test Laptop",
		Type:        "desktop",
		Fingerprint: "fp-123",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0",
	}
}

func TestService_Login(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		service, users, db := setupAuthService(t)
		users.addUser(t, 1, "alice@example.com", "correct-horse")

		result, err := service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.1", false)
		require.NoError(t, err)

		assert.Equal(t, uint(1), result.User.ID)
		assert.NotEmpty(t, result.Session.ID)
		assert.NotEmpty(t, result.AccessToken.Token)
		assert.NotEmpty(t, result.RefreshToken.Token)

		var attempt security.LoginAttempt
		require.NoError(t, db.Where("identifier = ?", "alice@example.com").First(&attempt).Error)
		assert.True(t, attempt.Success)
	})

	t.Run("wrong password", func(t *testing.T) {
		service, users, db := setupAuthService(t)
		users.addUser(t, 1, "alice@example.com", "correct-horse")

		_, err := service.Login("alice@example.com", "battery-staple", testDevice(), "10.0.0.1", false)
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		var attempt security.LoginAttempt
		require.NoError(t, db.Where("identifier = ?", "alice@example.com").First(&attempt).Error)
		assert.False(t, attempt.Success)
		assert.Equal(t, "password mismatch", attempt.FailureReason)
	})

	t.Run("unknown identifier yields the same error", func(t *testing.T) {
		service, _, db := setupAuthService(t)

		_, err := service.Login("ghost@example.com", "anything", testDevice(), "10.0.0.1", false)
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		var attempt security.LoginAttempt
		require.NoError(t, db.Where("identifier = ?", "ghost@example.com").First(&attempt).Error)
		assert.False(t, attempt.Success)
	})

	t.Run("disabled account", func(t *testing.T) {
		service, users, _ := setupAuthService(t)
		user := users.addUser(t, 1, "alice@example.com", "correct-horse")
		user.Disabled = true

		_, err := service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.1", false)
		assert.ErrorIs(t, err, ErrAccountDisabled)
	})

	t.Run("prior failures raise the session risk score", func(t *testing.T) {
		service, users, _ := setupAuthService(t)
		users.addUser(t, 1, "alice@example.com", "correct-horse")

		for i := 0; i < 3; i++ {
			_, _ = service.Login("alice@example.com", "wrong", testDevice(), "10.0.0.1", false)
		}

		result, err := service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.1", false)
		require.NoError(t, err)
		assert.Greater(t, result.RiskScore, 0.0)
		assert.Equal(t, result.RiskScore, result.Session.RiskScore)
	})
}

func TestService_ValidateAccess(t *testing.T) {
	service, users, _ := setupAuthService(t)
	users.addUser(t, 1, "alice@example.com", "correct-horse")

	login, err := service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.1", false)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		result, err := service.ValidateAccess(login.AccessToken.Token)
		require.NoError(t, err)
		assert.Equal(t, uint(1), result.UserID)
		assert.Equal(t, login.Session.ID, result.SessionID)
	})

	t.Run("token dies with its session", func(t *testing.T) {
		require.NoError(t, service.Logout(login.Session.ID))

		_, err := service.ValidateAccess(login.AccessToken.Token)
		assert.ErrorIs(t, err, tokenstore.ErrAccessTokenRevoked)
	})
}

func TestService_Refresh(t *testing.T) {
	service, users, _ := setupAuthService(t)
	users.addUser(t, 1, "alice@example.com", "correct-horse")

	login, err := service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.1", false)
	require.NoError(t, err)

	t.Run("rotates refresh and issues new access", func(t *testing.T) {
		result, err := service.Refresh(login.RefreshToken.Token)
		require.NoError(t, err)

		assert.Equal(t, login.Session.ID, result.SessionID)
		assert.NotEqual(t, login.RefreshToken.Token, result.RefreshToken.Token)
		assert.NotEqual(t, login.AccessToken.Token, result.AccessToken.Token)

		validated, err := service.ValidateAccess(result.AccessToken.Token)
		require.NoError(t, err)
		assert.Equal(t, uint(1), validated.UserID)
	})

	t.Run("replaying the consumed token reports reuse", func(t *testing.T) {
		_, err := service.Refresh(login.RefreshToken.Token)
		assert.ErrorIs(t, err, refreshtoken.ErrTokenReuseDetected)
	})
}

func TestService_LogoutAll(t *testing.T) {
	service, users, _ := setupAuthService(t)
	users.addUser(t, 1, "alice@example.com", "correct-horse")

	first, err := service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.1", false)
	require.NoError(t, err)
	_, err = service.Login("alice@example.com", "correct-horse", testDevice(), "10.0.0.2", false)
	require.NoError(t, err)

	terminated, err := service.LogoutAll(1, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), terminated)

	sessions, err := service.ActiveSessions(1, first.Session.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Current)
}

func TestService_OTPFlow(t *testing.T) {
	service, _, _ := setupAuthService(t)

	sent, err := service.SendOTP("alice@example.com", otp.IdentifierEmail, otp.PurposeLogin, "10.0.0.1")
	require.NoError(t, err)

	result, err := service.VerifyOTP("alice@example.com", sent.Code, otp.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestService_InitiatePasswordReset(t *testing.T) {
	t.Run("known identifier creates token and notifies", func(t *testing.T) {
		service, users, db := setupAuthService(t)
		users.addUser(t, 1, "alice@example.com", "correct-horse")
		notifier := &mockNotifier{}
		service.SetResetNotifier(notifier)

		require.NoError(t, service.InitiatePasswordReset("alice@example.com", "10.0.0.1"))

		assert.Equal(t, 1, notifier.calls)
		assert.Equal(t, "alice@example.com", notifier.recipient)
		assert.Contains(t, notifier.resetURL, "http://localhost:8080/reset-password?token=")

		var count int64
		require.NoError(t, db.Model(&passwordreset.PasswordResetToken{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("unknown identifier is indistinguishable", func(t *testing.T) {
		service, _, db := setupAuthService(t)
		notifier := &mockNotifier{}
		service.SetResetNotifier(notifier)

		require.NoError(t, service.InitiatePasswordReset("ghost@example.com", "10.0.0.1"))

		assert.Zero(t, notifier.calls)
		var count int64
		require.NoError(t, db.Model(&passwordreset.PasswordResetToken{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestService_CompletePasswordReset(t *testing.T) {
	service, users, db := setupAuthService(t)
	users.addUser(t, 1, "alice@example.com", "old-password")
	notifier := &mockNotifier{}
	service.SetResetNotifier(notifier)

	// Two live sessions that must die with the reset.
	_, err := service.Login("alice@example.com", "old-password", testDevice(), "10.0.0.1", false)
	require.NoError(t, err)
	_, err = service.Login("alice@example.com", "old-password", testDevice(), "10.0.0.2", false)
	require.NoError(t, err)

	require.NoError(t, service.InitiatePasswordReset("alice@example.com", "10.0.0.1"))

	var token passwordreset.PasswordResetToken
	require.NoError(t, db.Where("user_id = ?", 1).First(&token).Error)

	require.NoError(t, service.CompletePasswordReset(token.Token, "new-password", "10.0.0.9", "Mozilla/5.0"))

	t.Run("new hash pushed to the user store", func(t *testing.T) {
		assert.Equal(t, uint(1), users.updatedUserID)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users.updatedHash), []byte("new-password")))
	})

	t.Run("all sessions terminated", func(t *testing.T) {
		sessions, err := service.ActiveSessions(1, "")
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("old credential no longer works, new one does", func(t *testing.T) {
		_, err := service.Login("alice@example.com", "old-password", testDevice(), "10.0.0.1", false)
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		result, err := service.Login("alice@example.com", "new-password", testDevice(), "10.0.0.1", false)
		require.NoError(t, err)
		assert.Equal(t, uint(1), result.User.ID)
	})

	t.Run("audit event recorded", func(t *testing.T) {
		var event security.SecurityEvent
		require.NoError(t, db.Where("event_type = ?", "password_reset_completed").First(&event).Error)
		assert.Equal(t, security.SeverityMedium, event.Severity)
	})
}
