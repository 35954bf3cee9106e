package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	AI       AIConfig
	Game     GameConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/codearena?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to validate identity tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket used for submission archives.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	SubmissionsBucket    string // empty disables archiving
	PresignExpireMinutes int
}

// AIConfig configures the Gemini client used for challenge generation and code evaluation.
type AIConfig struct {
	GeminiAPIKey string
	BaseURL      string
	Model        string
	TimeoutMS    int
}

// Enabled reports whether an API key is configured.
func (c AIConfig) Enabled() bool { return c.GeminiAPIKey != "" }

// Timeout returns the per-call timeout.
func (c AIConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// GameConfig holds round and room defaults for the coordinator.
type GameConfig struct {
	DefaultDurationSec int
	MaxDurationSec     int
	DefaultDifficulty  string
	DefaultCapacity    int
	TickInterval       time.Duration
	IdleEviction       time.Duration
	InboxSize          int
}

// WorkerConfig controls the in-process record worker.
type WorkerConfig struct {
	Enabled bool
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "codearena"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SubmissionsBucket:    getEnv("AWS_S3_SUBMISSIONS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		AI: AIConfig{
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			BaseURL:      strings.TrimRight(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/models"), "/"),
			Model:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			TimeoutMS:    getEnvInt("GEMINI_TIMEOUT_MS", 10000),
		},
		Game: GameConfig{
			DefaultDurationSec: getEnvInt("GAME_DEFAULT_DURATION_SEC", 300),
			MaxDurationSec:     getEnvInt("GAME_MAX_DURATION_SEC", 3600),
			DefaultDifficulty:  getEnv("GAME_DEFAULT_DIFFICULTY", "medium"),
			DefaultCapacity:    getEnvInt("GAME_DEFAULT_CAPACITY", 8),
			TickInterval:       getEnvDuration("GAME_TICK_INTERVAL_MS", time.Millisecond, 1000),
			IdleEviction:       getEnvDuration("GAME_IDLE_EVICTION_SEC", time.Second, 600),
			InboxSize:          getEnvInt("GAME_INBOX_SIZE", 64),
		},
		Worker: WorkerConfig{
			Enabled: getEnvBool("WORKER_ENABLED", true),
		},
	}
	if cfg.Game.DefaultDurationSec <= 0 || cfg.Game.MaxDurationSec < cfg.Game.DefaultDurationSec {
		return nil, fmt.Errorf("invalid game durations: default=%d max=%d", cfg.Game.DefaultDurationSec, cfg.Game.MaxDurationSec)
	}
	if cfg.Game.TickInterval <= 0 {
		return nil, fmt.Errorf("GAME_TICK_INTERVAL_MS must be positive")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, unit time.Duration, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * unit
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
