// Package config loads the process's startup configuration from the
// environment. It is deliberately separate from internal/settings, which
// holds the database-backed configuration cache that can change while the
// process is running (§4.7); this package only covers what's needed to
// bring the process up.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the daemon needs before
// it can open its storage pool and start serving.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	DatabasePath    string
	MaxOpenConns    int
	MaxIdleConns    int
	BusyTimeout     time.Duration

	JWTSecret       string
	JWTAccessTTL    time.Duration
	JWTRefreshTTL   time.Duration
	PasswordPepper  string

	LogLevel  string
	LogFormat string

	CORSEnabled bool
	CORSOrigins []string

	RateLimitLoginPerMinute float64
	RateLimitLoginBurst     int

	BackupEnabled         bool
	BackupCronSpec        string
	BackupS3Bucket        string
	BackupS3Prefix        string
	BackupS3Region        string
	BackupS3Endpoint      string
	BackupS3AccessKeyID   string
	BackupS3SecretKey     string
	BackupS3ForcePathStyle bool

	InitialAdminEmail    string
	InitialAdminUsername string
	InitialAdminPassword string

	ShutdownTimeout time.Duration
}

// Load reads a .env file if present (ignored if absent, matching the
// pack's convention of .env being a local-dev convenience only) and then
// populates Config from the environment, applying defaults for anything
// unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:         getEnv("BAASD_HOST", "0.0.0.0"),
		Port:         getEnvInt("BAASD_PORT", 8080),
		ReadTimeout:  getEnvDuration("BAASD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvDuration("BAASD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  getEnvDuration("BAASD_IDLE_TIMEOUT", 60*time.Second),

		DatabasePath: getEnv("BAASD_DATABASE_PATH", "./baasd.db"),
		MaxOpenConns: getEnvInt("BAASD_DB_MAX_OPEN_CONNS", 1),
		MaxIdleConns: getEnvInt("BAASD_DB_MAX_IDLE_CONNS", 1),
		BusyTimeout:  getEnvDuration("BAASD_DB_BUSY_TIMEOUT", 5*time.Second),

		JWTSecret:      getEnv("BAASD_JWT_SECRET", ""),
		JWTAccessTTL:   getEnvDuration("BAASD_JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:  getEnvDuration("BAASD_JWT_REFRESH_TTL", 7*24*time.Hour),
		PasswordPepper: getEnv("BAASD_PASSWORD_PEPPER", ""),

		LogLevel:  getEnv("BAASD_LOG_LEVEL", "info"),
		LogFormat: getEnv("BAASD_LOG_FORMAT", "json"),

		CORSEnabled: getEnvBool("BAASD_CORS_ENABLED", false),
		CORSOrigins: getEnvList("BAASD_CORS_ORIGINS", nil),

		RateLimitLoginPerMinute: getEnvFloat("BAASD_LOGIN_RATE_PER_MINUTE", 10),
		RateLimitLoginBurst:     getEnvInt("BAASD_LOGIN_RATE_BURST", 5),

		BackupEnabled:          getEnvBool("BAASD_BACKUP_ENABLED", false),
		BackupCronSpec:         getEnv("BAASD_BACKUP_CRON", "0 0 * * *"),
		BackupS3Bucket:         getEnv("BAASD_BACKUP_S3_BUCKET", ""),
		BackupS3Prefix:         getEnv("BAASD_BACKUP_S3_PREFIX", "baasd"),
		BackupS3Region:         getEnv("BAASD_BACKUP_S3_REGION", "us-east-1"),
		BackupS3Endpoint:       getEnv("BAASD_BACKUP_S3_ENDPOINT", ""),
		BackupS3AccessKeyID:    getEnv("BAASD_BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretKey:      getEnv("BAASD_BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupS3ForcePathStyle: getEnvBool("BAASD_BACKUP_S3_FORCE_PATH_STYLE", false),

		InitialAdminEmail:    getEnv("BAASD_INITIAL_ADMIN_EMAIL", ""),
		InitialAdminUsername: getEnv("BAASD_INITIAL_ADMIN_USERNAME", "admin"),
		InitialAdminPassword: getEnv("BAASD_INITIAL_ADMIN_PASSWORD", ""),

		ShutdownTimeout: getEnvDuration("BAASD_SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration is internally consistent enough
// to start the process. It deliberately does not validate backup/CORS
// settings beyond presence, since those subsystems validate their own
// inputs when they start.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.BackupEnabled && c.BackupS3Bucket == "" {
		return ErrMissingBackupBucket
	}
	return nil
}

// ListenAddr returns the full address the HTTP server should bind to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	ErrInvalidPort         = fmt.Errorf("port must be between 1 and 65535")
	ErrInvalidTimeout      = fmt.Errorf("timeout values must be positive")
	ErrMissingJWTSecret    = fmt.Errorf("BAASD_JWT_SECRET must be set")
	ErrMissingBackupBucket = fmt.Errorf("BAASD_BACKUP_S3_BUCKET must be set when backups are enabled")
)

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
