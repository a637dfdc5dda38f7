package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is only required for the
// postgres driver.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogDevelopment  bool

	// Storage
	StorageDriver string
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	SQLitePath    string
	// History entries retained by the memory driver; older ones are dropped.
	MemoryHistoryLimit int

	// Optional YAML file of queues created at start-up when missing.
	QueuesFile string

	// Queue engine
	CallTimeout      time.Duration
	SweepInterval    time.Duration
	Retention        time.Duration
	ReapInterval     time.Duration
	SubscriberBuffer int
	// Comment line interval on idle event streams.
	SSEKeepAlive time.Duration
	// Admissions per second per queue; 0 disables the limit.
	AdmissionRate int

	// Event forwarding. A sink is enabled when its URL is set.
	RedisURL       string
	RedisStream    string
	AMQPURL        string
	AMQPExchange   string
	WebhookURL     string
	WebhookTimeout time.Duration
	// Deliveries per second per sink.
	ForwardRate int
	// Retry backoff durations: index 0 = first retry delay, etc.
	RetryBackoff []time.Duration
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the
// process environment.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "5000"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogDevelopment:  getBool("LOG_DEVELOPMENT", false),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", DriverMemory)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 5)),
		SQLitePath:    getEnv("SQLITE_PATH", "queue_system.db"),

		MemoryHistoryLimit: getInt("MEMORY_HISTORY_LIMIT", 10000),

		QueuesFile: os.Getenv("QUEUES_FILE"),

		CallTimeout:      getDuration("CALL_TIMEOUT", 2*time.Minute),
		SweepInterval:    getDuration("SWEEP_INTERVAL", 5*time.Second),
		Retention:        getDuration("RETENTION", 24*time.Hour),
		ReapInterval:     getDuration("REAP_INTERVAL", time.Minute),
		SubscriberBuffer: getInt("SUBSCRIBER_BUFFER", 256),
		SSEKeepAlive:     getDuration("SSE_KEEPALIVE", 15*time.Second),
		AdmissionRate:    getInt("ADMISSION_RATE_PER_QUEUE", 0),

		RedisURL:       os.Getenv("REDIS_URL"),
		RedisStream:    getEnv("REDIS_STREAM", "queue.stream"),
		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "queue.events"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookTimeout: getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		ForwardRate:    getInt("FORWARD_RATE_PER_SINK", 100),

		RetryBackoff: []time.Duration{
			getDuration("FORWARD_RETRY_BACKOFF_1", 500*time.Millisecond),
			getDuration("FORWARD_RETRY_BACKOFF_2", 2*time.Second),
			getDuration("FORWARD_RETRY_BACKOFF_3", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORAGE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.SweepInterval <= 0 || c.ReapInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and REAP_INTERVAL must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive")
	}
	if c.MemoryHistoryLimit < 1 {
		return fmt.Errorf("MEMORY_HISTORY_LIMIT must be at least 1")
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be at least 1")
	}
	if c.AdmissionRate < 0 || c.ForwardRate < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
