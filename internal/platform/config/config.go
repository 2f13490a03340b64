package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr    string
	JWT     JWTConfig
	Storage StorageConfig
	DB      DBConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Audit   AuditConfig
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	TTL        time.Duration
}

// StorageConfig selects the backend for users, lab orders and results.
type StorageConfig struct {
	Backend string // memory | postgres
}

type DBConfig struct {
	URL    string
	Driver string // pgx | postgres
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	Topic      string
	Partitions int32
	Replicas   int16
}

type AuditConfig struct {
	Store        string // memory | postgres | redis
	BufferSize   int
	Workers      int
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr: envOr("LABTRAIL_ADDR", ":8080"),
		JWT: JWTConfig{
			SigningKey: jwtSigningKey,
			Issuer:     envOr("JWT_ISSUER", "labtrail"),
			Audience:   envOr("JWT_AUDIENCE", "labtrail-api"),
			TTL:        envDuration("JWT_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			Backend: envOr("STORAGE_BACKEND", "memory"),
		},
		DB: DBConfig{
			URL:    os.Getenv("DATABASE_URL"),
			Driver: envOr("DATABASE_DRIVER", "pgx"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    envList("KAFKA_BROKERS"),
			Topic:      envOr("KAFKA_AUDIT_TOPIC", "labtrail.audit"),
			Partitions: int32(envInt("KAFKA_AUDIT_PARTITIONS", 3)),
			Replicas:   int16(envInt("KAFKA_AUDIT_REPLICAS", 1)),
		},
		Audit: AuditConfig{
			Store:        envOr("AUDIT_STORE", "memory"),
			BufferSize:   envInt("AUDIT_BUFFER_SIZE", 1024),
			Workers:      envInt("AUDIT_WORKERS", 4),
			WriteTimeout: envDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
