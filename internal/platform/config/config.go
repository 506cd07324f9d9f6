package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment so main
// stays lean.
type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	Kafka    Kafka
	TSA      TSA
	Polygon  Polygon
	Bitcoin  Bitcoin
	Worker   Worker
	Auth     Auth
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Database points at the PostgreSQL instance backing the job queue, event log,
// and anchor tables. Empty means in-memory stores (dev/test).
type Database struct {
	URL string
}

// Redis configures the optional poll-lock client. Empty URL disables it.
type Redis struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the optional canonical-event mirror. No brokers disables it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// TSA points at the RFC 3161 timestamp authority.
type TSA struct {
	URL string
}

// Polygon configures the transaction submitter and receipt poller. The
// private key signs the anchoring transactions; without it submission is
// disabled and only polling runs.
type Polygon struct {
	RPCURL      string
	PrivateKey  string
	MaxAttempts int
}

// Bitcoin configures the OpenTimestamps poller.
type Bitcoin struct {
	CalendarURLs  []string
	ExplorerURL   string
	MaxAttempts   int
	WarnThreshold int
}

// Worker tunes the orchestrator pool.
type Worker struct {
	PoolSize          int
	ClaimBatch        int
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
}

// Auth configures internal invocation credentials for worker endpoints.
type Auth struct {
	JWTSigningKey string
	CronSecret    string
}

// FromEnv builds a Config from environment variables with development
// defaults. Production deployments override everything via the environment.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envOr("CUSTODIA_ADDR", ":8080"),
		},
		Database: Database{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envOr("KAFKA_EVENTS_TOPIC", "document-events"),
		},
		TSA: TSA{
			URL: envOr("TSA_URL", "https://freetsa.org/tsr"),
		},
		Polygon: Polygon{
			RPCURL:      os.Getenv("POLYGON_RPC_URL"),
			PrivateKey:  os.Getenv("POLYGON_PRIVATE_KEY"),
			MaxAttempts: envInt("POLYGON_MAX_ATTEMPTS", 20),
		},
		Bitcoin: Bitcoin{
			CalendarURLs: envListOr("OTS_CALENDAR_URLS", []string{
				"https://a.pool.opentimestamps.org",
				"https://b.pool.opentimestamps.org",
				"https://finney.calendar.eternitywall.com",
			}),
			ExplorerURL:   envOr("MEMPOOL_API_URL", "https://mempool.space/api"),
			MaxAttempts:   envInt("BITCOIN_MAX_ATTEMPTS", 288),
			WarnThreshold: envInt("BITCOIN_WARN_THRESHOLD", 240),
		},
		Worker: Worker{
			PoolSize:          envInt("WORKER_POOL_SIZE", 4),
			ClaimBatch:        envInt("WORKER_CLAIM_BATCH", 10),
			LeaseTTL:          envDuration("WORKER_LEASE_TTL", 2*time.Minute),
			HeartbeatInterval: envDuration("WORKER_HEARTBEAT_INTERVAL", 15*time.Second),
		},
		Auth: Auth{
			JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			CronSecret:    os.Getenv("CRON_SECRET"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envListOr(key string, fallback []string) []string {
	if list := envList(key); len(list) > 0 {
		return list
	}
	return fallback
}
