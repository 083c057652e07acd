package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Engine modes.
const (
	ModePaper    = "paper"
	ModeDisabled = "disabled"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Engine
	Symbol              string
	EngineMode          string
	ConfidenceThreshold float64
	TestSignalMode      bool
	TickInterval        time.Duration
	TickTimeout         time.Duration // 0 = none
	NotionalUSD         float64
	AutoTPPct           float64 // 0 = no automatic TP
	AutoSLPct           float64 // 0 = no automatic SL

	// Infrastructure
	SQLitePath     string // empty = in-memory stores
	RedisAddr      string // empty = Redis disabled
	RedisPassword  string
	RedisDB        int
	BinanceBaseURL string
	HTTPAddr       string
	MetricsAddr    string

	// API
	CORSOrigin      string
	AdminTOTPSecret string

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads .env files (a missing file is fine) and then the environment.
// With no arguments it reads ./.env. Invalid values fail with an error naming
// every offending variable.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	p := &parser{}
	c := &Config{
		Symbol:              strings.ToUpper(getEnv("ENGINE_SYMBOL", "ETHUSDC")),
		EngineMode:          strings.ToLower(getEnv("ENGINE_MODE", ModePaper)),
		ConfidenceThreshold: p.float("CONFIDENCE_THRESHOLD", 0.6),
		TestSignalMode:      p.bool("TEST_SIGNAL_MODE", false),
		TickInterval:        p.seconds("TICK_INTERVAL_SEC", 60),
		TickTimeout:         p.seconds("TICK_TIMEOUT_SEC", 0),
		NotionalUSD:         p.float("NOTIONAL_USD", 50),
		AutoTPPct:           p.float("AUTO_TP_PCT", 0),
		AutoSLPct:           p.float("AUTO_SL_PCT", 0),

		SQLitePath:     lookupEnv("SQLITE_PATH", "data/papertrader.db"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        p.int("REDIS_DB", 0),
		BinanceBaseURL: getEnv("BINANCE_BASE_URL", ""),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8787"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),

		CORSOrigin:      getEnv("CORS_ORIGIN", "*"),
		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  p.int("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: p.int("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: p.int("LOG_MAX_AGE_DAYS", 14),
	}

	if c.EngineMode != ModePaper && c.EngineMode != ModeDisabled {
		p.fail("ENGINE_MODE", c.EngineMode, "must be paper or disabled")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		p.fail("CONFIDENCE_THRESHOLD", fmt.Sprint(c.ConfidenceThreshold), "must lie in [0,1]")
	}
	if c.TickInterval <= 0 {
		p.fail("TICK_INTERVAL_SEC", c.TickInterval.String(), "must be positive")
	}
	if c.NotionalUSD <= 0 {
		p.fail("NOTIONAL_USD", fmt.Sprint(c.NotionalUSD), "must be positive")
	}
	if c.Symbol == "" {
		p.fail("ENGINE_SYMBOL", "", "must not be empty")
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Sanitized returns a view of the configuration that is safe to expose:
// secrets are reported only as set or unset.
func (c *Config) Sanitized() map[string]any {
	return map[string]any{
		"symbol":              c.Symbol,
		"engineMode":          c.EngineMode,
		"confidenceThreshold": c.ConfidenceThreshold,
		"tickIntervalSec":     c.TickInterval.Seconds(),
		"tickTimeoutSec":      c.TickTimeout.Seconds(),
		"notionalUsd":         c.NotionalUSD,
		"autoTpPct":           c.AutoTPPct,
		"autoSlPct":           c.AutoSLPct,
		"sqlitePath":          c.SQLitePath,
		"redisEnabled":        c.RedisAddr != "",
		"httpAddr":            c.HTTPAddr,
		"metricsAddr":         c.MetricsAddr,
		"corsOrigin":          c.CORSOrigin,
		"adminOtpEnabled":     c.AdminTOTPSecret != "",
		"webhookEnabled":      c.WebhookURL != "",
		"telegramEnabled":     c.TelegramBotToken != "" && c.TelegramChatID != "",
		"logLevel":            c.LogLevel,
	}
}

// parser collects conversion errors so Load can report all of them at once.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value, why string) {
	p.errs = append(p.errs, fmt.Errorf("config: %s=%q %s", key, value, why))
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.fail(key, v, "is not a number")
		return fallback
	}
	return f
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, v, "is not an integer")
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, v, "is not a boolean")
		return fallback
	}
	return b
}

func (p *parser) seconds(key string, fallback float64) time.Duration {
	return time.Duration(p.float(key, fallback) * float64(time.Second))
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// lookupEnv is getEnv for variables where an explicit empty value is meaningful.
func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
