package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB       DBConfig
	Redis    RedisConfig
	Server   ServerConfig
	Fraud    FraudConfig
	Resolver ResolverConfig
	Verify   VerifyConfig
	Alert    AlertConfig
	Tracing  TracingConfig
	Log      LogConfig
}

// DBConfig configures the PostgreSQL pool. An empty URL switches the service
// to the in-memory store, which is the no-dependency dev mode.
type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// RedisConfig configures the event stream. An empty URL selects the
// in-process transport.
type RedisConfig struct {
	URL string
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type FraudConfig struct {
	AmountCeiling     int64
	MinHistory        int
	AnomalyMultiplier float64
	RapidWindow       time.Duration
	RapidThreshold    int
	HistoryWindowDay  int
	TamperResidualLen int
}

type ResolverConfig struct {
	FuzzyThreshold  float64
	CandidateWindow time.Duration
	CandidateLimit  int
}

type VerifyConfig struct {
	// Code gates POST /api/verify; empty disables the gate.
	Code      string
	CacheSize int
	CacheTTL  time.Duration
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Endpoint string
	Insecure bool
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		DB: DBConfig{
			URL:             getEnv("DB_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 30)) * time.Second,
		},
		Fraud: FraudConfig{
			AmountCeiling:     int64(getEnvInt("FRAUD_AMOUNT_CEILING", 1_000_000)),
			MinHistory:        getEnvInt("FRAUD_MIN_HISTORY", 1),
			AnomalyMultiplier: getEnvFloat("FRAUD_ANOMALY_MULTIPLIER", 10.0),
			RapidWindow:       time.Duration(getEnvInt("FRAUD_RAPID_WINDOW_MIN", 10)) * time.Minute,
			RapidThreshold:    getEnvInt("FRAUD_RAPID_THRESHOLD", 1),
			HistoryWindowDay:  getEnvInt("FRAUD_HISTORY_WINDOW_DAYS", 30),
			TamperResidualLen: getEnvInt("FRAUD_TAMPER_RESIDUAL_LEN", 120),
		},
		Resolver: ResolverConfig{
			FuzzyThreshold:  getEnvFloat("RESOLVER_FUZZY_THRESHOLD", 0.80),
			CandidateWindow: time.Duration(getEnvInt("RESOLVER_CANDIDATE_WINDOW_HOURS", 48)) * time.Hour,
			CandidateLimit:  getEnvInt("RESOLVER_CANDIDATE_LIMIT", 500),
		},
		Verify: VerifyConfig{
			Code:      getEnv("VERIFY_CODE", ""),
			CacheSize: getEnvInt("VERIFY_CACHE_SIZE", 256),
			CacheTTL:  time.Duration(getEnvInt("VERIFY_CACHE_TTL_SEC", 60)) * time.Second,
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_MIN", 5)) * time.Minute,
		},
		Tracing: TracingConfig{
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be within (0, 65535]")
	}
	if c.Fraud.RapidThreshold <= 0 {
		return fmt.Errorf("FRAUD_RAPID_THRESHOLD must be positive")
	}
	if c.Fraud.AnomalyMultiplier <= 1 {
		return fmt.Errorf("FRAUD_ANOMALY_MULTIPLIER must be greater than 1")
	}
	if c.Resolver.FuzzyThreshold <= 0 || c.Resolver.FuzzyThreshold > 1 {
		return fmt.Errorf("RESOLVER_FUZZY_THRESHOLD must be within (0, 1]")
	}
	if c.Verify.CacheSize < 0 {
		return fmt.Errorf("VERIFY_CACHE_SIZE must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
