package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App           AppConfig           `envPrefix:"AUTHCORE_APP_"`
	Log           LogConfig           `envPrefix:"AUTHCORE_LOG_"`
	Database      DatabaseConfig      `envPrefix:"AUTHCORE_DB_"`
	Session       SessionConfig       `envPrefix:"AUTHCORE_SESSION_"`
	AccessToken   AccessTokenConfig   `envPrefix:"AUTHCORE_ACCESS_"`
	RefreshToken  RefreshTokenConfig  `envPrefix:"AUTHCORE_REFRESH_"`
	Blacklist     BlacklistConfig     `envPrefix:"AUTHCORE_BLACKLIST_"`
	OTP           OTPConfig           `envPrefix:"AUTHCORE_OTP_"`
	PasswordReset PasswordResetConfig `envPrefix:"AUTHCORE_PWRESET_"`
	Security      SecurityConfig      `envPrefix:"AUTHCORE_SECURITY_"`
	Mail          MailConfig          `envPrefix:"AUTHCORE_MAIL_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"authcore"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"json"`
	OutputPath string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"authcore.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type SessionConfig struct {
	Expiry           time.Duration `env:"EXPIRY" envDefault:"24h"`
	RememberMeExpiry time.Duration `env:"REMEMBER_ME_EXPIRY" envDefault:"720h"`
	RetentionPeriod  time.Duration `env:"RETENTION_PERIOD" envDefault:"2160h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0"`
}

type AccessTokenConfig struct {
	Expiry        time.Duration `env:"EXPIRY" envDefault:"15m"`
	SigningSecret string        `env:"SIGNING_SECRET"`
	Issuer        string        `env:"ISSUER" envDefault:"authcore"`
}

type RefreshTokenConfig struct {
	Expiry           time.Duration `env:"EXPIRY" envDefault:"168h"`
	RememberMeExpiry time.Duration `env:"REMEMBER_ME_EXPIRY" envDefault:"720h"`
	TokenLength      int           `env:"TOKEN_LENGTH" envDefault:"32"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0"`
}

type BlacklistConfig struct {
	RetentionPeriod time.Duration `env:"RETENTION_PERIOD" envDefault:"168h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0"`
	CacheEnabled    bool          `env:"CACHE_ENABLED" envDefault:"false"`
	CacheAddr       string        `env:"CACHE_ADDR" envDefault:"localhost:6379"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"15m"`
}

type OTPConfig struct {
	CodeLength          int           `env:"CODE_LENGTH" envDefault:"6"`
	Expiry              time.Duration `env:"EXPIRY" envDefault:"10m"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	ThrottleMaxRequests int           `env:"THROTTLE_MAX_REQUESTS" envDefault:"5"`
	ThrottleWindow      time.Duration `env:"THROTTLE_WINDOW" envDefault:"1h"`
	// The abuse cooldown is independent of the request window.
	ThrottleBlockDuration time.Duration `env:"THROTTLE_BLOCK_DURATION" envDefault:"1h"`
	CleanupInterval       time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0"`
}

type PasswordResetConfig struct {
	TokenLength  int           `env:"TOKEN_LENGTH" envDefault:"32"`
	Expiry       time.Duration `env:"EXPIRY" envDefault:"1h"`
	HistoryLimit int           `env:"HISTORY_LIMIT" envDefault:"5"`
	BcryptCost   int           `env:"BCRYPT_COST" envDefault:"10"`
}

type SecurityConfig struct {
	FailedLoginWindow time.Duration `env:"FAILED_LOGIN_WINDOW" envDefault:"24h"`
	ActivityWindow    time.Duration `env:"ACTIVITY_WINDOW" envDefault:"168h"`
	EventWindow       time.Duration `env:"EVENT_WINDOW" envDefault:"720h"`
}

type MailConfig struct {
	Host         string `env:"HOST"`
	Port         int    `env:"PORT" envDefault:"587"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	Encryption   string `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress  string `env:"FROM_ADDRESS"`
	FromName     string `env:"FROM_NAME"`
	TemplatesDir string `env:"TEMPLATES_DIR" envDefault:"templates/mail"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	return env.Parse(cfg)
}

func (c *Config) Validate() error {
	if err := validateAccessTokenConfig(&c.AccessToken); err != nil {
		return err
	}
	if err := validateRefreshTokenConfig(&c.RefreshToken); err != nil {
		return err
	}
	if err := validateOTPConfig(&c.OTP); err != nil {
		return err
	}
	if c.Session.Expiry <= 0 {
		return fmt.Errorf("session expiry must be positive, got %s", c.Session.Expiry)
	}
	if c.PasswordReset.Expiry <= 0 {
		return fmt.Errorf("password reset expiry must be positive, got %s", c.PasswordReset.Expiry)
	}
	return nil
}

func validateAccessTokenConfig(cfg *AccessTokenConfig) error {
	if cfg.Expiry <= 0 {
		return fmt.Errorf("access token expiry must be positive, got %s", cfg.Expiry)
	}
	if cfg.SigningSecret == "" {
		return fmt.Errorf("access token signing secret is required")
	}
	return nil
}

func validateRefreshTokenConfig(cfg *RefreshTokenConfig) error {
	if cfg.Expiry <= 0 {
		return fmt.Errorf("refresh token expiry must be positive, got %s", cfg.Expiry)
	}
	if cfg.TokenLength < 16 {
		return fmt.Errorf("refresh token length must be at least 16 bytes, got %d", cfg.TokenLength)
	}
	return nil
}

func validateOTPConfig(cfg *OTPConfig) error {
	if cfg.CodeLength < 4 || cfg.CodeLength > 10 {
		return fmt.Errorf("OTP code length must be between 4 and 10 digits, got %d", cfg.CodeLength)
	}
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("OTP max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.ThrottleMaxRequests <= 0 {
		return fmt.Errorf("OTP throttle max requests must be positive, got %d", cfg.ThrottleMaxRequests)
	}
	return nil
}
