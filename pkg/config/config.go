package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Booking  BookingConfig
	Events   EventsConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
	OTEL     OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BookingConfig holds the concurrency budgets of the booking pipeline
type BookingConfig struct {
	RateLimitLimit     int
	RateLimitWindow    time.Duration
	RateLimitOpTimeout time.Duration

	LockTTL            time.Duration
	LockAcquireTimeout time.Duration
	LockRetryInterval  time.Duration
	LockBucket         time.Duration
	LockFailOpen       bool

	TxMaxRetries int
	TxTimeout    time.Duration

	// MaxDuration bounds a single booking, which bounds the lock keys it takes
	MaxDuration time.Duration

	AvailabilityCacheTTL time.Duration

	WaitlistExpiry       time.Duration
	WaitlistNotifyWindow time.Duration
	WaitlistCleanupEvery time.Duration
	SeriesMaxOccurrences int
}

// EventsConfig selects where booking events are published
type EventsConfig struct {
	Backend string // redis, kafka or none
	Channel string
}

// KafkaConfig holds Kafka producer and consumer configuration
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	Compression   string
	BatchTimeout  time.Duration
	WriteTimeout  time.Duration
	RequiredAcks  int
	ConsumerGroup string
}

// LoggingConfig holds log output configuration
type LoggingConfig struct {
	Level          string
	FileEnabled    bool
	FilePath       string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
	MetricsEnabled bool
}

// MaxBookingDuration is the upper bound accepted for BOOKING_MAX_DURATION
const MaxBookingDuration = 24 * time.Hour

var defaults = map[string]any{
	"ENV": "development",

	"SERVER_HOST":             "0.0.0.0",
	"SERVER_PORT":             8080,
	"SERVER_SHUTDOWN_TIMEOUT": 30 * time.Second,
	"CORS_ORIGINS":            "*",

	"DB_HOST":              "localhost",
	"DB_PORT":              5432,
	"DB_USER":              "postgres",
	"DB_PASSWORD":          "",
	"DB_NAME":              "healthcare_scheduling",
	"DB_SSLMODE":           "disable",
	"DB_MAX_OPEN_CONNS":    25,
	"DB_MAX_IDLE_CONNS":    5,
	"DB_CONN_MAX_LIFETIME": 5 * time.Minute,
	"DB_MIGRATIONS_DIR":    "migrations",

	"REDIS_HOST":           "localhost",
	"REDIS_PORT":           6379,
	"REDIS_PASSWORD":       "",
	"REDIS_DB":             0,
	"REDIS_POOL_SIZE":      10,
	"REDIS_MIN_IDLE_CONNS": 2,
	"REDIS_DIAL_TIMEOUT":   5 * time.Second,
	"REDIS_READ_TIMEOUT":   3 * time.Second,
	"REDIS_WRITE_TIMEOUT":  3 * time.Second,

	"RATE_LIMIT_LIMIT":       5,
	"RATE_LIMIT_WINDOW":      60 * time.Second,
	"RATE_LIMIT_OP_TIMEOUT":  500 * time.Millisecond,
	"LOCK_TTL":               20 * time.Second,
	"LOCK_ACQUIRE_TIMEOUT":   2 * time.Second,
	"LOCK_RETRY_INTERVAL":    50 * time.Millisecond,
	"LOCK_BUCKET":            time.Hour,
	"LOCK_FAIL_OPEN":         false,
	"TX_MAX_RETRIES":         3,
	"TX_TIMEOUT":             5 * time.Second,
	"AVAILABILITY_CACHE_TTL": time.Hour,
	"BOOKING_MAX_DURATION":   4 * time.Hour,

	"WAITLIST_EXPIRY":        24 * time.Hour,
	"WAITLIST_NOTIFY_WINDOW": 15 * time.Minute,
	"WAITLIST_CLEANUP_EVERY": 5 * time.Minute,
	"SERIES_MAX_OCCURRENCES": 52,

	"EVENTS_BACKEND": "redis",
	"EVENTS_CHANNEL": "appointments:events",

	"KAFKA_BROKERS":        "localhost:9092",
	"KAFKA_TOPIC":          "appointment-events",
	"KAFKA_COMPRESSION":    "snappy",
	"KAFKA_BATCH_TIMEOUT":  10 * time.Millisecond,
	"KAFKA_WRITE_TIMEOUT":  10 * time.Second,
	"KAFKA_REQUIRED_ACKS":  -1,
	"KAFKA_CONSUMER_GROUP": "scheduling-waitlist",

	"LOG_LEVEL":             "info",
	"LOG_FILE_ENABLED":      false,
	"LOG_FILE_PATH":         "logs/scheduling.log",
	"LOG_FILE_MAX_SIZE_MB":  100,
	"LOG_FILE_MAX_BACKUPS":  5,
	"LOG_FILE_MAX_AGE_DAYS": 28,

	"OTEL_SERVICE_NAME":    "healthcare-scheduling",
	"OTEL_SERVICE_VERSION": "1.0.0",
	"OTEL_ENDPOINT":        "",
	"OTEL_ENABLED":         false,
	"METRICS_ENABLED":      true,
}

// Load loads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{
		Env: v.GetString("ENV"),
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			MigrationsDir:   v.GetString("DB_MIGRATIONS_DIR"),
		},
		Redis: RedisConfig{
			Host:         v.GetString("REDIS_HOST"),
			Port:         v.GetInt("REDIS_PORT"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Booking: BookingConfig{
			RateLimitLimit:       v.GetInt("RATE_LIMIT_LIMIT"),
			RateLimitWindow:      v.GetDuration("RATE_LIMIT_WINDOW"),
			RateLimitOpTimeout:   v.GetDuration("RATE_LIMIT_OP_TIMEOUT"),
			LockTTL:              v.GetDuration("LOCK_TTL"),
			LockAcquireTimeout:   v.GetDuration("LOCK_ACQUIRE_TIMEOUT"),
			LockRetryInterval:    v.GetDuration("LOCK_RETRY_INTERVAL"),
			LockBucket:           v.GetDuration("LOCK_BUCKET"),
			LockFailOpen:         v.GetBool("LOCK_FAIL_OPEN"),
			TxMaxRetries:         v.GetInt("TX_MAX_RETRIES"),
			TxTimeout:            v.GetDuration("TX_TIMEOUT"),
			MaxDuration:          v.GetDuration("BOOKING_MAX_DURATION"),
			AvailabilityCacheTTL: v.GetDuration("AVAILABILITY_CACHE_TTL"),
			WaitlistExpiry:       v.GetDuration("WAITLIST_EXPIRY"),
			WaitlistNotifyWindow: v.GetDuration("WAITLIST_NOTIFY_WINDOW"),
			WaitlistCleanupEvery: v.GetDuration("WAITLIST_CLEANUP_EVERY"),
			SeriesMaxOccurrences: v.GetInt("SERIES_MAX_OCCURRENCES"),
		},
		Events: EventsConfig{
			Backend: strings.ToLower(v.GetString("EVENTS_BACKEND")),
			Channel: v.GetString("EVENTS_CHANNEL"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetString("KAFKA_BROKERS")),
			Topic:         v.GetString("KAFKA_TOPIC"),
			Compression:   v.GetString("KAFKA_COMPRESSION"),
			BatchTimeout:  v.GetDuration("KAFKA_BATCH_TIMEOUT"),
			WriteTimeout:  v.GetDuration("KAFKA_WRITE_TIMEOUT"),
			RequiredAcks:  v.GetInt("KAFKA_REQUIRED_ACKS"),
			ConsumerGroup: v.GetString("KAFKA_CONSUMER_GROUP"),
		},
		Logging: LoggingConfig{
			Level:          v.GetString("LOG_LEVEL"),
			FileEnabled:    v.GetBool("LOG_FILE_ENABLED"),
			FilePath:       v.GetString("LOG_FILE_PATH"),
			FileMaxSizeMB:  v.GetInt("LOG_FILE_MAX_SIZE_MB"),
			FileMaxBackups: v.GetInt("LOG_FILE_MAX_BACKUPS"),
			FileMaxAgeDays: v.GetInt("LOG_FILE_MAX_AGE_DAYS"),
		},
		OTEL: OTELConfig{
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
			Endpoint:       v.GetString("OTEL_ENDPOINT"),
			Enabled:        v.GetBool("OTEL_ENABLED"),
			MetricsEnabled: v.GetBool("METRICS_ENABLED"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects budgets that would disable a concurrency control
func (c *Config) Validate() error {
	b := c.Booking
	switch {
	case b.RateLimitLimit <= 0:
		return fmt.Errorf("RATE_LIMIT_LIMIT must be positive, got %d", b.RateLimitLimit)
	case b.RateLimitWindow <= 0:
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", b.RateLimitWindow)
	case b.RateLimitOpTimeout <= 0:
		return fmt.Errorf("RATE_LIMIT_OP_TIMEOUT must be positive, got %s", b.RateLimitOpTimeout)
	case b.LockTTL <= 0:
		return fmt.Errorf("LOCK_TTL must be positive, got %s", b.LockTTL)
	case b.LockAcquireTimeout <= 0:
		return fmt.Errorf("LOCK_ACQUIRE_TIMEOUT must be positive, got %s", b.LockAcquireTimeout)
	case b.LockRetryInterval <= 0:
		return fmt.Errorf("LOCK_RETRY_INTERVAL must be positive, got %s", b.LockRetryInterval)
	case b.LockBucket <= 0:
		return fmt.Errorf("LOCK_BUCKET must be positive, got %s", b.LockBucket)
	case b.TxMaxRetries < 1:
		return fmt.Errorf("TX_MAX_RETRIES must be at least 1, got %d", b.TxMaxRetries)
	case b.TxTimeout <= 0:
		return fmt.Errorf("TX_TIMEOUT must be positive, got %s", b.TxTimeout)
	case b.LockTTL <= b.TxTimeout*time.Duration(b.TxMaxRetries):
		// A lease must outlive every transaction attempt made under it.
		return fmt.Errorf("LOCK_TTL (%s) must exceed TX_TIMEOUT x TX_MAX_RETRIES (%s)",
			b.LockTTL, b.TxTimeout*time.Duration(b.TxMaxRetries))
	case b.MaxDuration <= 0 || b.MaxDuration > MaxBookingDuration:
		return fmt.Errorf("BOOKING_MAX_DURATION must be in (0, %s], got %s", MaxBookingDuration, b.MaxDuration)
	case b.WaitlistExpiry <= 0:
		return fmt.Errorf("WAITLIST_EXPIRY must be positive, got %s", b.WaitlistExpiry)
	case b.WaitlistNotifyWindow <= 0:
		return fmt.Errorf("WAITLIST_NOTIFY_WINDOW must be positive, got %s", b.WaitlistNotifyWindow)
	case b.WaitlistCleanupEvery <= 0:
		return fmt.Errorf("WAITLIST_CLEANUP_EVERY must be positive, got %s", b.WaitlistCleanupEvery)
	case b.SeriesMaxOccurrences < 1:
		return fmt.Errorf("SERIES_MAX_OCCURRENCES must be at least 1, got %d", b.SeriesMaxOccurrences)
	}

	switch c.Events.Backend {
	case "redis", "kafka", "none":
	default:
		return fmt.Errorf("EVENTS_BACKEND must be \"redis\", \"kafka\" or \"none\", got %q", c.Events.Backend)
	}
	if c.Events.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND is \"kafka\"")
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
