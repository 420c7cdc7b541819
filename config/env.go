package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env into the process environment. A missing file is fine:
// deployments set variables directly.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using process environment")
	}
}

func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// GetEnvDuration accepts Go durations ("90s") or plain milliseconds ("1500").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(GetEnv(key, "")))
	if err != nil {
		return fallback
	}
	return b
}

type DBSettings struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisSettings struct {
	Enabled bool
	Host    string
	Port    int
}

// Settings is everything the service reads from the environment.
type Settings struct {
	Port      string
	LogEnv    string
	LogLevel  string
	JWTSecret string
	TokenTTL  time.Duration
	BodyLimit int

	// AdminUsername and AdminPassword seed the operator account on start.
	AdminUsername string
	AdminPassword string

	// Store selects the ledger backend: "memory" or "postgres".
	Store string
	DB    DBSettings
	Redis RedisSettings

	MinLiveDuration  time.Duration
	StoreTimeout     time.Duration
	ReconcileSpec    string
	SubscriberBuffer int
}

func Load() Settings {
	return Settings{
		Port:      GetEnv("PORT", "3000"),
		LogEnv:    GetEnv("LOG_ENV", "dev"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		JWTSecret: GetEnv("JWT_SECRET", "bondmatch-dev-secret"),
		TokenTTL:  GetEnvDuration("TOKEN_TTL", 24*time.Hour),
		BodyLimit: GetEnvInt("BODY_LIMIT", 1*1024*1024),

		AdminUsername: GetEnv("ADMIN_USERNAME", ""),
		AdminPassword: GetEnv("ADMIN_PASSWORD", ""),

		Store: strings.ToLower(GetEnv("STORE", "postgres")),
		DB: DBSettings{
			User:     GetEnv("DB_USER", "postgres"),
			Password: GetEnv("DB_PASSWORD", "password"),
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "5432"),
			Name:     GetEnv("DB_NAME", "bondmatch"),
			SSLMode:  GetEnv("DB_SSLMODE", "disable"),
			MaxConns: GetEnvInt("DB_MAX_CONNS", 60),
			MinConns: GetEnvInt("DB_MIN_CONNS", 10),
		},
		Redis: RedisSettings{
			Enabled: GetEnvBool("REDIS_ENABLED", false),
			Host:    GetEnv("REDIS_HOST", "127.0.0.1"),
			Port:    GetEnvInt("REDIS_PORT", 6379),
		},

		MinLiveDuration:  GetEnvDuration("MIN_LIVE_DURATION", 0),
		StoreTimeout:     GetEnvDuration("STORE_TIMEOUT", 5*time.Second),
		ReconcileSpec:    GetEnv("RECONCILE_SPEC", "@every 1m"),
		SubscriberBuffer: GetEnvInt("SUBSCRIBER_BUFFER", 64),
	}
}
