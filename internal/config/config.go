package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// IDプロバイダーの種別
const (
	ProviderLocal  = "local"
	ProviderGoTrue = "gotrue"
)

// 契約状態の判定方法
const (
	SubscriptionLookupDatabase = "database"
	SubscriptionLookupStub     = "stub"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity
	IdentityProvider string
	GoTrueURL        string
	GoTrueAnonKey    string
	JWTSecret        string
	AccessTokenTTL   time.Duration

	// Session
	SessionMaxAge       int
	RedisURL            string
	LoginWaitTimeout    time.Duration
	ClientIdleTimeout   time.Duration
	ClientSweepInterval time.Duration
	SubscribeRetryMax   time.Duration

	// Subscription
	SubscriptionLookup string

	// Payment
	PaymentLatency     time.Duration
	PaymentSuccessRate float64

	// Room
	RoomAssetProbe bool
	RoomDomain     string

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	CleanupInterval time.Duration

	// Logging / Error reporting
	LogLevel  string
	SentryDSN string
	AppEnv    string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.IdentityProvider = strings.ToLower(getEnvString("IDENTITY_PROVIDER", ProviderLocal))
	if cfg.IdentityProvider == ProviderGoTrue {
		cfg.GoTrueURL = os.Getenv("GOTRUE_URL")
		if cfg.GoTrueURL == "" {
			missing = append(missing, "GOTRUE_URL")
		}
		cfg.GoTrueAnonKey = os.Getenv("GOTRUE_ANON_KEY")
		if cfg.GoTrueAnonKey == "" {
			missing = append(missing, "GOTRUE_ANON_KEY")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.IdentityProvider {
	case ProviderLocal, ProviderGoTrue:
	default:
		return nil, fmt.Errorf("IDENTITY_PROVIDER must be %q or %q, got %q", ProviderLocal, ProviderGoTrue, cfg.IdentityProvider)
	}

	cfg.SubscriptionLookup = strings.ToLower(getEnvString("SUBSCRIPTION_LOOKUP", SubscriptionLookupDatabase))
	switch cfg.SubscriptionLookup {
	case SubscriptionLookupDatabase, SubscriptionLookupStub:
	default:
		return nil, fmt.Errorf("SUBSCRIPTION_LOOKUP must be %q or %q, got %q", SubscriptionLookupDatabase, SubscriptionLookupStub, cfg.SubscriptionLookup)
	}

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", time.Hour)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.LoginWaitTimeout = getEnvDuration("LOGIN_WAIT_TIMEOUT", 3*time.Second)
	cfg.ClientIdleTimeout = getEnvDuration("CLIENT_IDLE_TIMEOUT", 30*time.Minute)
	cfg.ClientSweepInterval = getEnvDuration("CLIENT_SWEEP_INTERVAL", 5*time.Minute)
	cfg.SubscribeRetryMax = getEnvDuration("SUBSCRIBE_RETRY_MAX_INTERVAL", 30*time.Second)
	cfg.PaymentLatency = getEnvDuration("PAYMENT_LATENCY", time.Second)
	cfg.PaymentSuccessRate = getEnvFloat("PAYMENT_SUCCESS_RATE", 0.8)
	cfg.RoomAssetProbe = getEnvBool("ROOM_ASSET_PROBE", false)
	cfg.RoomDomain = getEnvString("ROOM_DOMAIN", "virtucalls.com")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.PaymentSuccessRate < 0 || cfg.PaymentSuccessRate > 1 {
		return nil, fmt.Errorf("PAYMENT_SUCCESS_RATE must be between 0 and 1, got %v", cfg.PaymentSuccessRate)
	}

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
