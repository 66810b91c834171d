package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Expiry:           24 * time.Hour,
			RememberMeExpiry: 720 * time.Hour,
			RetentionPeriod:  2160 * time.Hour,
		},
		AccessToken: AccessTokenConfig{
			Expiry:        15 * time.Minute,
			SigningSecret: "test-secret",
			Issuer:        "authcore",
		},
		RefreshToken: RefreshTokenConfig{
			Expiry:           168 * time.Hour,
			RememberMeExpiry: 720 * time.Hour,
			TokenLength:      32,
		},
		OTP: OTPConfig{
			CodeLength:            6,
			Expiry:                10 * time.Minute,
			MaxAttempts:           3,
			ThrottleMaxRequests:   5,
			ThrottleWindow:        time.Hour,
			ThrottleBlockDuration: time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			TokenLength:  32,
			Expiry:       time.Hour,
			HistoryLimit: 5,
			BcryptCost:   10,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, validTestConfig().Validate())
	})

	t.Run("missing signing secret", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.AccessToken.SigningSecret = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signing secret")
	})

	t.Run("non-positive access token expiry", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.AccessToken.Expiry = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("refresh token too short", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.RefreshToken.TokenLength = 8
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 16 bytes")
	})

	t.Run("OTP code length out of range", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.OTP.CodeLength = 3
		assert.Error(t, cfg.Validate())

		cfg.OTP.CodeLength = 11
		assert.Error(t, cfg.Validate())
	})

	t.Run("OTP max attempts must be positive", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.OTP.MaxAttempts = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("throttle max requests must be positive", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.OTP.ThrottleMaxRequests = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive session expiry", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Session.Expiry = -time.Hour
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive reset expiry", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.PasswordReset.Expiry = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, LoadConfig(cfg))

	assert.Equal(t, "authcore", cfg.App.Name)
	assert.Equal(t, 24*time.Hour, cfg.Session.Expiry)
	assert.Equal(t, 720*time.Hour, cfg.Session.RememberMeExpiry)
	assert.Equal(t, 15*time.Minute, cfg.AccessToken.Expiry)
	assert.Equal(t, 168*time.Hour, cfg.RefreshToken.Expiry)
	assert.Equal(t, 32, cfg.RefreshToken.TokenLength)
	assert.Equal(t, 6, cfg.OTP.CodeLength)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 5, cfg.OTP.ThrottleMaxRequests)
	assert.Equal(t, time.Hour, cfg.OTP.ThrottleBlockDuration)
	assert.Equal(t, 5, cfg.PasswordReset.HistoryLimit)
	assert.Equal(t, 168*time.Hour, cfg.Blacklist.RetentionPeriod)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTHCORE_OTP_MAX_ATTEMPTS", "5")
	t.Setenv("AUTHCORE_ACCESS_EXPIRY", "30m")
	t.Setenv("AUTHCORE_ACCESS_SIGNING_SECRET", "from-env")

	cfg := &Config{}
	require.NoError(t, LoadConfig(cfg))

	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.AccessToken.Expiry)
	assert.Equal(t, "from-env", cfg.AccessToken.SigningSecret)
}
