package services

import (
	"fmt"
	"time"
)

const (
	DefaultUpstreamTimeout = 75 * time.Second
	MinUpstreamTimeout     = 60 * time.Second
	MaxUpstreamTimeout     = 90 * time.Second

	DefaultUpstreamEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
)

// Config collects everything the binaries read from the environment.
type Config struct {
	Env      string
	LogLevel string

	ServerAddr    string
	MaxBodySize   string
	RateLimit     int
	SentryDSN     string
	MaxImageCount int

	UpstreamBackend  string
	UpstreamAPIKey   string
	UpstreamEndpoint string
	UpstreamModel    string
	UpstreamTimeout  time.Duration
	UpstreamPrompt   string

	BrokerAddress     string
	AnalyticsEndpoint string
	AnalyticsDomain   string
	TelegramToken     string
	TelegramChatID    int64

	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string

	RevenueCatAPIKey      string
	RevenueCatAppUserID   string
	RevenueCatEntitlement string
	FreeDailyLimit        int

	TryOnAPIURL    string
	TryOnEncoding  string
	HistoryLimit   int
	HistoryDBPath  string
	HistoryBlobDir string
	FreeRetries    int
	Language       string
}

func LoadConfig() *Config {
	cfg := &Config{
		Env:      GetEnv("ENV", "local"),
		LogLevel: GetEnv("LOG_LEVEL", "info"),

		ServerAddr:    GetEnv("SERVER_ADDR", ":8083"),
		MaxBodySize:   GetEnv("MAX_BODY_SIZE", "20M"),
		RateLimit:     GetEnvInt("RATE_LIMIT", 3),
		SentryDSN:     GetEnv("SENTRY_DSN", ""),
		MaxImageCount: GetEnvInt("MAX_IMAGE_COUNT", MaxFanoutImages),

		UpstreamBackend:  GetEnv("UPSTREAM_BACKEND", "rest"),
		UpstreamAPIKey:   GetEnv("UPSTREAM_API_KEY", GetEnv("GOOGLE_API_KEY", "")),
		UpstreamEndpoint: GetEnv("UPSTREAM_ENDPOINT", ""),
		UpstreamModel:    GetEnv("UPSTREAM_MODEL", Flash25Image.String()),
		UpstreamTimeout:  ClampUpstreamTimeout(GetEnvDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout)),
		UpstreamPrompt:   GetEnv("UPSTREAM_PROMPT", TryOnPrompt),

		BrokerAddress:     GetEnv("ASYNC_BROKER_ADDRESS", ""),
		AnalyticsEndpoint: GetEnv("ANALYTICS_ENDPOINT", ""),
		AnalyticsDomain:   GetEnv("ANALYTICS_DOMAIN", ""),
		TelegramToken:     GetEnv("TG_TOKEN", ""),
		TelegramChatID:    GetEnvInt64("TG_ALERT_CHAT_ID", 0),

		R2AccountID:       GetEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     GetEnv("R2_ACCESS_KEY_ID", ""),
		R2AccessKeySecret: GetEnv("R2_ACCESS_KEY_SECRET", ""),
		R2BucketName:      GetEnv("R2_BUCKET_NAME", ""),

		RevenueCatAPIKey:      GetEnv("RC_API_KEY", ""),
		RevenueCatAppUserID:   GetEnv("RC_APP_USER_ID", ""),
		RevenueCatEntitlement: GetEnv("RC_ENTITLEMENT", "pro"),
		FreeDailyLimit:        GetEnvInt("FREE_DAILY_LIMIT", DefaultFreeDailyLimit),

		TryOnAPIURL:    GetEnv("TRYON_API_URL", "http://localhost:8083"),
		TryOnEncoding:  GetEnv("TRYON_ENCODING", "json"),
		HistoryLimit:   GetEnvInt("HISTORY_LIMIT", 10),
		HistoryDBPath:  GetEnv("HISTORY_DB_PATH", "tryon_history.db"),
		HistoryBlobDir: GetEnv("HISTORY_BLOB_DIR", "tryon_history"),
		FreeRetries:    GetEnvInt("FREE_RETRIES", 1),
		Language:       GetEnv("LANG", "en"),
	}
	if cfg.UpstreamEndpoint == "" {
		cfg.UpstreamEndpoint = fmt.Sprintf(DefaultUpstreamEndpoint, cfg.UpstreamModel)
	}
	return cfg
}

// ClampUpstreamTimeout keeps the per-call timeout inside [60s, 90s].
func ClampUpstreamTimeout(timeout time.Duration) time.Duration {
	if timeout < MinUpstreamTimeout {
		return MinUpstreamTimeout
	}
	if timeout > MaxUpstreamTimeout {
		return MaxUpstreamTimeout
	}
	return timeout
}

func (c *Config) R2Configured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2BucketName != ""
}
