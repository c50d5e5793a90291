package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ストレージバックエンド種別
const (
	StorageNone       = "none"
	StorageCloudinary = "cloudinary"
	StorageGCS        = "gcs"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Redis（空の場合はキャッシュとイベント中継を無効化する）
	RedisURL string `env:"REDIS_URL"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`

	// Session
	SessionSecret        string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge        int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionRefreshWindow time.Duration `env:"SESSION_REFRESH_WINDOW" envDefault:"1h"`

	// Email confirmation
	RequireEmailConfirmation bool          `env:"REQUIRE_EMAIL_CONFIRMATION" envDefault:"true"`
	EmailConfirmTTL          time.Duration `env:"EMAIL_CONFIRM_TTL" envDefault:"24h"`

	// Storage
	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"none"`
	CloudinaryCloudName   string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey      string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret   string `env:"CLOUDINARY_API_SECRET"`
	GCSBucket             string `env:"GCS_BUCKET"`
	GCSCredentialsFile    string `env:"GCS_CREDENTIALS_FILE"`
	ProfilePhotoBucket    string `env:"PROFILE_PHOTO_BUCKET" envDefault:"profile-photos"`
	PhotoMaxSize          int64  `env:"PHOTO_MAX_SIZE" envDefault:"5242880"`
	ImportProviderAvatars bool   `env:"IMPORT_PROVIDER_AVATARS" envDefault:"false"`

	// Profile
	UsernameDebounce time.Duration `env:"USERNAME_DEBOUNCE" envDefault:"500ms"`

	// Rate Limit
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Worker
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("invalid environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}

// validate は項目間の整合性を検証する。
func (c *Config) validate() error {
	switch c.StorageBackend {
	case StorageNone:
	case StorageCloudinary:
		if c.CloudinaryCloudName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "" {
			return fmt.Errorf("STORAGE_BACKEND=cloudinary requires CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("STORAGE_BACKEND=gcs requires GCS_BUCKET")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %q", c.StorageBackend)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}
	// 延長後も次の参照でウィンドウ内に入るような設定は延長が止まらない
	if c.SessionRefreshWindow < 0 || c.SessionRefreshWindow >= c.SessionTTL() {
		return fmt.Errorf("SESSION_REFRESH_WINDOW (%v) must be non-negative and shorter than SESSION_MAX_AGE (%v)",
			c.SessionRefreshWindow, c.SessionTTL())
	}

	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.DBMaxOpenConns)
	}
	if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) must be between 0 and DB_MAX_OPEN_CONNS (%d)",
			c.DBMaxIdleConns, c.DBMaxOpenConns)
	}
	if c.DBConnMaxLifetime < 0 {
		return fmt.Errorf("DB_CONN_MAX_LIFETIME must not be negative, got %v", c.DBConnMaxLifetime)
	}
	return nil
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}
