package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	DatabaseURL        string
	CORSAllowedOrigins []string

	BackendBaseURL string
	BackendToken   string
	BackendTimeout time.Duration

	RetryBase          time.Duration
	RetryMaxAttempts   int
	RetryJitterPercent float64
	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	DefaultVATPercent int64

	CatalogCacheTTL time.Duration
	IdempotencyTTL  time.Duration

	BoardStore       string
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	QueueRedisPrefix       string
	QueueMaxAttempts       int
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration

	RateLimitBackend string
	RateLimitRate    string
	RateLimitWindow  time.Duration
	RateLimitMax     int

	BodyLimitBytes int64

	LogFormat string
	LogLevel  string

	MetricsNamespace   string
	HTTPLatencyBuckets string

	OTelExporter    string
	OTelEndpoint    string
	OTelSampleRatio float64
	OTelServiceName string

	EnableHSTS        bool
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration

	PprofEnabled bool
	PprofUser    string
	PprofPass    string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		DatabaseURL:        k.String("DATABASE_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		BackendBaseURL: strings.TrimRight(strings.TrimSpace(k.String("BACKEND_BASE_URL")), "/"),
		BackendToken:   strings.TrimSpace(k.String("BACKEND_TOKEN")),
		BackendTimeout: parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),

		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:   parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent: parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CircuitMinRequests: parseInt(k.String("CIRCUIT_BACKEND_MIN_REQUESTS"), 5),
		CircuitFailureRate: parseFloat(k.String("CIRCUIT_BACKEND_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_BACKEND_OPEN_FOR"), "30s"),

		DefaultVATPercent: int64(parseInt(k.String("QUOTE_DEFAULT_VAT_PERCENT"), 19)),

		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		BoardStore:       strings.ToLower(valueOrDefault(k.String("BOARD_STORE"), "redis")),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "covasa"),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 2),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "500ms"),

		RateLimitBackend: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "ulule")),
		RateLimitRate:    valueOrDefault(k.String("RATE_LIMIT_RATE"), "300-M"),
		RateLimitWindow:  parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:     parseInt(k.String("RATE_LIMIT_MAX"), 300),

		BodyLimitBytes: int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),

		LogFormat: strings.ToLower(valueOrDefault(k.String("LOG_FORMAT"), "json")),
		LogLevel:  strings.ToLower(valueOrDefault(k.String("LOG_LEVEL"), "info")),

		MetricsNamespace:   valueOrDefault(k.String("METRICS_NAMESPACE"), "covasa"),
		HTTPLatencyBuckets: k.String("HTTP_LATENCY_BUCKETS_MS"),

		OTelExporter:    strings.ToLower(valueOrDefault(k.String("OTEL_EXPORTER"), "none")),
		OTelEndpoint:    strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelSampleRatio: parseFloat(k.String("OTEL_SAMPLE_RATIO"), 1),
		OTelServiceName: valueOrDefault(k.String("OTEL_SERVICE_NAME"), "covasa-backoffice"),

		EnableHSTS:        parseBool(k.String("ENABLE_HSTS"), false),
		ShutdownTimeout:   parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		ReadHeaderTimeout: parseDuration(k.String("READ_HEADER_TIMEOUT"), "5s"),

		PprofEnabled: parseBool(k.String("ENABLE_PPROF"), false),
		PprofUser:    strings.TrimSpace(k.String("PPROF_BASIC_AUTH_USER")),
		PprofPass:    strings.TrimSpace(k.String("PPROF_BASIC_AUTH_PASS")),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BackendBaseURL == "" {
		return nil, errors.New("BACKEND_BASE_URL is required")
	}
	switch cfg.BoardStore {
	case "redis":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when BOARD_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported BOARD_STORE %q", cfg.BoardStore)
	}
	if cfg.DefaultVATPercent < 0 || cfg.DefaultVATPercent > 100 {
		return nil, errors.New("QUOTE_DEFAULT_VAT_PERCENT must be between 0 and 100")
	}
	switch cfg.RateLimitBackend {
	case "ulule", "sliding", "local":
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("unsupported LOG_FORMAT %q", cfg.LogFormat)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. The binaries call it at startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
