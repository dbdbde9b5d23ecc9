package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	MySQL    MySQLConfig
	Log      LogConfig
	Card     CardProviderConfig
	Regional RegionalProviderConfig
	Payments PaymentsConfig
	Jobs     JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type CardProviderConfig struct {
	SecretKey                 string
	WebhookSecret             string
	BaseURL                   string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type RegionalProviderConfig struct {
	SecretKey   string
	BaseURL     string
	HTTPTimeout time.Duration
}

type PaymentsConfig struct {
	ProviderTimeout      time.Duration
	VerifyMaxRetries     uint64
	VerifyInitialBackoff time.Duration
	CallbackBaseURL      string
	NotifyWebhookURL     string
	NotifyMaxAttempts    int32
	NotifyRetryInterval  time.Duration
	NotifyHTTPTimeout    time.Duration
	PendingStaleAfter    time.Duration
	JobBatchSize         int32
}

type JobsConfig struct {
	ReconcileInterval      time.Duration
	NotifyDispatchInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payments-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Card: CardProviderConfig{
			SecretKey:                 getEnv("CARD_SECRET_KEY", ""),
			WebhookSecret:             getEnv("CARD_WEBHOOK_SECRET", ""),
			BaseURL:                   getEnv("CARD_BASE_URL", "https://api.stripe.com"),
			SignatureToleranceSeconds: int64(getIntEnv("CARD_SIGNATURE_TOLERANCE_SECONDS", 300)),
			HTTPTimeout:               getSecondsEnv("CARD_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Regional: RegionalProviderConfig{
			SecretKey:   getEnv("REGIONAL_SECRET_KEY", ""),
			BaseURL:     getEnv("REGIONAL_BASE_URL", "https://api.paystack.co"),
			HTTPTimeout: getSecondsEnv("REGIONAL_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Payments: PaymentsConfig{
			ProviderTimeout:      getSecondsEnv("PAYMENTS_PROVIDER_TIMEOUT_SECONDS", 15*time.Second),
			VerifyMaxRetries:     uint64(getIntEnv("PAYMENTS_VERIFY_MAX_RETRIES", 3)),
			VerifyInitialBackoff: getSecondsEnv("PAYMENTS_VERIFY_INITIAL_BACKOFF_SECONDS", time.Second),
			CallbackBaseURL:      getEnv("PAYMENTS_CALLBACK_BASE_URL", ""),
			NotifyWebhookURL:     getEnv("PAYMENTS_NOTIFY_WEBHOOK_URL", ""),
			NotifyMaxAttempts:    int32(getIntEnv("PAYMENTS_NOTIFY_MAX_ATTEMPTS", 10)),
			NotifyRetryInterval:  getMinutesEnv("PAYMENTS_NOTIFY_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			NotifyHTTPTimeout:    getSecondsEnv("PAYMENTS_NOTIFY_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			PendingStaleAfter:    getMinutesEnv("PAYMENTS_PENDING_STALE_AFTER_MINUTES", 15*time.Minute),
			JobBatchSize:         int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ReconcileInterval:      getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			NotifyDispatchInterval: getMinutesEnv("PAYMENTS_NOTIFY_DISPATCH_INTERVAL_MINUTES", time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
