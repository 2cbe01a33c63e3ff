package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Scheduler / Worker pool
	SchedulerTick      time.Duration
	FetchMaxConcurrent int
	FetchQueueSize     int

	// Fetch
	FetchTimeout      time.Duration
	JobTimeout        time.Duration
	FetchMaxSize      int64
	FetchBlockPrivate bool
	UserAgent         string
	MinContentLength  int

	// Retry
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int

	// Politeness
	PoliteDelayFeed time.Duration
	PoliteDelayWeb  time.Duration
	HostRatePerSec  float64
	RobotsTTL       time.Duration
	RobotsTimeout   time.Duration

	// Agent (remote summarization)
	OllamaBaseURL string
	OllamaModel   string
	AgentTimeout  time.Duration

	// Source registry
	SeedDefaultSources bool

	// Rate Limit（手動トリガー、req/min/IP）
	ManualTriggerRate int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
}

// DefaultUserAgent はHTTPリクエストに付与するUser-Agent。
const DefaultUserAgent = "Mozilla/5.0 (compatible; FeedHarvest/1.0; +https://github.com/hitoshi/feedharvest)"

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

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

	cfg.DatabaseDriver = getEnvString("DATABASE_DRIVER", "postgres")
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite: %q", cfg.DatabaseDriver)
	}

	// Optional fields with defaults
	cfg.SchedulerTick = getEnvDuration("SCHEDULER_TICK", 30*time.Second)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 10)
	cfg.FetchQueueSize = getEnvInt("FETCH_QUEUE_SIZE", 256)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", 10*time.Minute)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchBlockPrivate = getEnvBool("FETCH_BLOCK_PRIVATE", true)
	cfg.UserAgent = getEnvString("USER_AGENT", DefaultUserAgent)
	cfg.MinContentLength = getEnvInt("MIN_CONTENT_LENGTH", 200)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", 60*time.Second)
	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.PoliteDelayFeed = getEnvDuration("POLITE_DELAY_FEED", time.Second)
	cfg.PoliteDelayWeb = getEnvDuration("POLITE_DELAY_WEB", 2*time.Second)
	cfg.HostRatePerSec = getEnvFloat("HOST_RATE_PER_SEC", 1)
	cfg.RobotsTTL = getEnvDuration("ROBOTS_TTL", time.Hour)
	cfg.RobotsTimeout = getEnvDuration("ROBOTS_TIMEOUT", 10*time.Second)
	cfg.OllamaBaseURL = getEnvString("OLLAMA_BASE_URL", "http://localhost:11434")
	cfg.OllamaModel = getEnvString("OLLAMA_MODEL", "qwen2.5:3b")
	cfg.AgentTimeout = getEnvDuration("AGENT_TIMEOUT", 60*time.Second)
	cfg.SeedDefaultSources = getEnvBool("SEED_DEFAULT_SOURCES", true)
	cfg.ManualTriggerRate = getEnvInt("MANUAL_TRIGGER_RATE", 30)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

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

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}
