package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"

	SessionsInStore = "store"
	SessionsInRedis = "redis"
)

type Config struct {
	Port string

	StoreBackend  string
	DatabaseURL   string
	MigrateOnBoot bool
	MongoURI      string
	MongoDatabase string

	SessionBackend string
	RedisURL       string

	SessionTTL  time.Duration
	ResetTTL    time.Duration
	VerifyTTL   time.Duration
	EmailDomain string
	BaseURL     string
	BcryptCost  int

	CookieHashKey  string
	CookieBlockKey string
	CookieSecure   bool

	NotifyProvider     string
	NotifyWebhookURL   string
	NotifyWebhookToken string
	PostmarkToken      string
	NotifyFrom         string
	NotifyPoll         time.Duration
	NotifyBatchSize    int
	NotifyMaxAttempts  int
	NotifyLogSecrets   bool

	SweepInterval time.Duration

	AdminSeedName     string
	AdminSeedEmail    string
	AdminSeedPassword string

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	envFile := os.Getenv("PORTAL_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Port:               readString("PORT", "8080"),
		StoreBackend:       strings.ToLower(readString("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:        os.Getenv("DB_DSN"),
		MigrateOnBoot:      readBool("DB_MIGRATE", true),
		MongoURI:           os.Getenv("MONGO_URI"),
		MongoDatabase:      readString("MONGO_DATABASE", "project"),
		SessionBackend:     strings.ToLower(readString("SESSION_BACKEND", SessionsInStore)),
		RedisURL:           os.Getenv("REDIS_URL"),
		SessionTTL:         time.Duration(readInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		ResetTTL:           time.Duration(readInt("RESET_TTL_MINUTES", 30)) * time.Minute,
		VerifyTTL:          time.Duration(readInt("VERIFY_TTL_HOURS", 24)) * time.Hour,
		EmailDomain:        readString("PORTAL_EMAIL_DOMAIN", "udst.edu.qa"),
		BaseURL:            readString("PUBLIC_BASE_URL", "http://localhost:8080"),
		BcryptCost:         readInt("BCRYPT_COST", 0),
		CookieHashKey:      os.Getenv("COOKIE_HASH_KEY"),
		CookieBlockKey:     os.Getenv("COOKIE_BLOCK_KEY"),
		CookieSecure:       readBool("COOKIE_SECURE", false),
		NotifyProvider:     readString("NOTIFY_PROVIDER", "log"),
		NotifyWebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookToken: os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		PostmarkToken:      os.Getenv("POSTMARK_SERVER_TOKEN"),
		NotifyFrom:         readString("NOTIFY_FROM", "no-reply@udst.edu.qa"),
		NotifyPoll:         readDurationSeconds("NOTIFY_POLL_SECONDS", 5),
		NotifyBatchSize:    readInt("NOTIFY_BATCH_SIZE", 50),
		NotifyMaxAttempts:  readInt("NOTIFY_MAX_ATTEMPTS", 3),
		NotifyLogSecrets:   readBool("NOTIFY_LOG_SECRETS", false),
		SweepInterval:      readDurationSeconds("SWEEP_INTERVAL_SECONDS", 300),
		AdminSeedName:      readString("ADMIN_SEED_NAME", "admin"),
		AdminSeedEmail:     os.Getenv("ADMIN_SEED_EMAIL"),
		AdminSeedPassword:  os.Getenv("ADMIN_SEED_PASSWORD"),
		LogLevel:           readString("LOG_LEVEL", "info"),
		LogFormat:          readString("LOG_FORMAT", "text"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DB_DSN is required for the postgres backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.SessionBackend {
	case SessionsInStore:
	case SessionsInRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 || c.ResetTTL <= 0 || c.VerifyTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if n := len(c.CookieHashKey); n != 0 && n < 32 {
		return errors.New("COOKIE_HASH_KEY must be at least 32 bytes")
	}
	switch len(c.CookieBlockKey) {
	case 0, 16, 24, 32:
	default:
		return errors.New("COOKIE_BLOCK_KEY must be 16, 24 or 32 bytes")
	}
	if c.AdminSeedEmail != "" && c.AdminSeedPassword == "" {
		return errors.New("ADMIN_SEED_PASSWORD is required with ADMIN_SEED_EMAIL")
	}
	return nil
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
