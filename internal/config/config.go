package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Lock         LockConfig
	Escalation   EscalationConfig
	Metrics      MetricsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsPath string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret string
}

// NotificationConfig holds notification endpoints.
type NotificationConfig struct {
	EmailFrom      string
	WebhookURL     string
	TimeoutSeconds int
}

// LockConfig bounds distributed lock usage.
type LockConfig struct {
	Prefix                 string
	TimeoutSeconds         int
	BlockingTimeoutSeconds int
	RetryIntervalMillis    int
}

// EscalationConfig drives the sweep worker and finding intake.
type EscalationConfig struct {
	WorkerEnabled             bool
	SweepSchedule             string
	FindingDedupWindowMinutes int
	SpecialistLookbackDays    int
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
		},
		Notification: NotificationConfig{
			EmailFrom:      getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			TimeoutSeconds: getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 5),
		},
		Lock: LockConfig{
			Prefix:                 getEnv("LOCK_PREFIX", "helpdesk:lock:"),
			TimeoutSeconds:         getEnvAsInt("LOCK_TIMEOUT_SECONDS", 30),
			BlockingTimeoutSeconds: getEnvAsInt("LOCK_BLOCKING_TIMEOUT_SECONDS", 10),
			RetryIntervalMillis:    getEnvAsInt("LOCK_RETRY_INTERVAL_MS", 50),
		},
		Escalation: EscalationConfig{
			WorkerEnabled:             getEnvAsBool("ESCALATION_WORKER_ENABLED", true),
			SweepSchedule:             getEnv("ESCALATION_SWEEP_SCHEDULE", "@every 1m"),
			FindingDedupWindowMinutes: getEnvAsInt("FINDING_DEDUP_WINDOW_MINUTES", 240),
			SpecialistLookbackDays:    getEnvAsInt("SPECIALIST_LOOKBACK_DAYS", 90),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout is how long an acquired lock is held before it expires on its own.
func (l LockConfig) Timeout() time.Duration {
	return secondsOr(l.TimeoutSeconds, 30)
}

// BlockingTimeout is how long a caller waits to acquire a lock.
func (l LockConfig) BlockingTimeout() time.Duration {
	return secondsOr(l.BlockingTimeoutSeconds, 10)
}

// RetryInterval is the polling step while waiting for a contended lock.
func (l LockConfig) RetryInterval() time.Duration {
	if l.RetryIntervalMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(l.RetryIntervalMillis) * time.Millisecond
}

// FindingDedupWindow is the rolling window for suppressing repeat findings.
func (e EscalationConfig) FindingDedupWindow() time.Duration {
	if e.FindingDedupWindowMinutes <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(e.FindingDedupWindowMinutes) * time.Minute
}

// SpecialistLookback bounds how far back category history counts.
func (e EscalationConfig) SpecialistLookback() time.Duration {
	if e.SpecialistLookbackDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(e.SpecialistLookbackDays) * 24 * time.Hour
}

// Timeout bounds a single outbound notification.
func (n NotificationConfig) Timeout() time.Duration {
	return secondsOr(n.TimeoutSeconds, 5)
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
