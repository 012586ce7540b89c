package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StoreDriver selects the contact store backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreBadger   StoreDriver = "badger"
)

// Server captures process level configuration.
type Server struct {
	Addr           string
	ServiceName    string
	LogLevel       string
	RequestTimeout time.Duration
	TxTimeout      time.Duration
	Store          StoreDriver
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins    []string

	Database DatabaseConfig
	Badger   BadgerConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Dir string
	// InMemory runs badger without touching disk; tests only.
	InMemory bool
}

// RedisConfig configures the optional distributed identifier lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

// RateLimitConfig bounds POST /identify per client IP. Requests <= 0 disables it.
// Counters live in Redis when REDIS_URL is set, otherwise in process memory.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// KafkaConfig configures the audit outbox relay. Empty Brokers disables the relay.
type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	PollInterval time.Duration
	BatchSize    int
}

// Enabled reports whether a relay should run.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func FromEnv() (Server, error) {
	_ = godotenv.Load()

	addr := os.Getenv("RECONCILER_ADDR")
	if addr == "" {
		port := getEnv("PORT", "3000")
		addr = ":" + port
	}

	cfg := Server{
		Addr:        addr,
		ServiceName: getEnv("SERVICE_NAME", "identity-reconciliation"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Store:       StoreDriver(strings.ToLower(getEnv("STORE_DRIVER", string(StoreMemory)))),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Badger: BadgerConfig{
			Dir: getEnv("BADGER_DIR", "./data/contacts"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "identity.audit"),
			BatchSize:  100,
		},
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.TxTimeout, err = getDuration("TX_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.LockTTL, err = getDuration("REDIS_LOCK_TTL", 10*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Kafka.PollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Database.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return Server{}, err
	}
	if cfg.Database.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Requests, err = getInt("RATE_LIMIT_REQUESTS", 0); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Server{}, err
	}
	cfg.Database.ConnMaxLifetime = 30 * time.Minute

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Server) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreBadger:
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			return fmt.Errorf("BADGER_DIR is required when STORE_DRIVER=badger")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store)
	}
	if c.Kafka.Enabled() && c.Store != StorePostgres {
		return fmt.Errorf("KAFKA_BROKERS requires STORE_DRIVER=postgres (audit outbox)")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
