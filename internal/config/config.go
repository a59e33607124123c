package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// RSS Fetch
	FetchAttempts    int
	FetchBaseTimeout time.Duration
	FetchTimeoutStep time.Duration
	FetchBackoffBase time.Duration
	FetchMaxSize     int64

	// Orchestrator
	AutoInterval time.Duration
	StaggerDelay time.Duration

	// Images
	ImagePolicy       string
	AllowPrivateHosts bool
	UploadDir         string
	UploadURLPrefix   string
	ImageMaxWidth     int

	// History
	HistoryRetentionDays int

	// Rate Limit
	RateLimitAdmin int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FetchAttempts = getEnvInt("RSS_FETCH_ATTEMPTS", 3)
	cfg.FetchBaseTimeout = getEnvDuration("RSS_FETCH_BASE_TIMEOUT", 20*time.Second)
	cfg.FetchTimeoutStep = getEnvDuration("RSS_FETCH_TIMEOUT_STEP", 15*time.Second)
	cfg.FetchBackoffBase = getEnvDuration("RSS_FETCH_BACKOFF_BASE", 500*time.Millisecond)
	cfg.FetchMaxSize = getEnvInt64("RSS_FETCH_MAX_SIZE", 10485760)
	cfg.AutoInterval = getEnvDuration("RSS_AUTO_INTERVAL", 15*time.Minute)
	cfg.StaggerDelay = getEnvDuration("RSS_STAGGER_DELAY", 500*time.Millisecond)
	cfg.ImagePolicy = strings.ToLower(getEnvString("RSS_IMAGE_POLICY", "hotlink"))
	cfg.AllowPrivateHosts = getEnvBool("RSS_ALLOW_PRIVATE_HOSTS", false)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "./uploads/news")
	cfg.UploadURLPrefix = getEnvString("UPLOAD_URL_PREFIX", "/uploads/news")
	cfg.ImageMaxWidth = getEnvInt("IMAGE_MAX_WIDTH", 1200)
	cfg.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", 30)
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.ImagePolicy != "hotlink" && cfg.ImagePolicy != "verify" {
		return nil, fmt.Errorf("RSS_IMAGE_POLICY must be hotlink or verify: %q", cfg.ImagePolicy)
	}
	if cfg.FetchAttempts < 1 {
		return nil, fmt.Errorf("RSS_FETCH_ATTEMPTS must be at least 1: %d", cfg.FetchAttempts)
	}
	if cfg.FetchMaxSize <= 0 {
		return nil, fmt.Errorf("RSS_FETCH_MAX_SIZE must be positive: %d", cfg.FetchMaxSize)
	}
	if cfg.AutoInterval <= 0 {
		return nil, fmt.Errorf("RSS_AUTO_INTERVAL must be positive: %s", cfg.AutoInterval)
	}
	if cfg.StaggerDelay < 0 {
		return nil, fmt.Errorf("RSS_STAGGER_DELAY must not be negative: %s", cfg.StaggerDelay)
	}

	return cfg, nil
}

// FetchMaxTimeout は最終試行のタイムアウトを返す。
// HTTPクライアント全体のタイムアウトはこの値以上である必要がある。
func (c *Config) FetchMaxTimeout() time.Duration {
	return c.FetchBaseTimeout + time.Duration(c.FetchAttempts-1)*c.FetchTimeoutStep
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
