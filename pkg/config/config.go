package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Grades     GradesConfig
	Enrollment EnrollmentConfig
	TwoFactor  TwoFactorConfig
	Exports    ExportsConfig
	Audit      AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
	SingleSession     bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GradesConfig tunes grade summary caching.
type GradesConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// EnrollmentConfig bounds bulk enrollment batches.
type EnrollmentConfig struct {
	MaxBulkSize int
}

// TwoFactorConfig configures the TOTP issuer identity.
type TwoFactorConfig struct {
	Issuer        string
	RecoveryCodes int
}

// ExportsConfig governs account/gradebook export generation.
type ExportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	CleanupInterval   time.Duration
}

// AuditConfig tunes the asynchronous audit sink.
type AuditConfig struct {
	Workers    int
	BufferSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
		SingleSession:     v.GetBool("JWT_SINGLE_SESSION"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Grades = GradesConfig{
		CacheEnabled: v.GetBool("GRADES_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("GRADES_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Enrollment = EnrollmentConfig{
		MaxBulkSize: v.GetInt("ENROLLMENT_MAX_BULK_SIZE"),
	}

	cfg.TwoFactor = TwoFactorConfig{
		Issuer:        v.GetString("TWO_FACTOR_ISSUER"),
		RecoveryCodes: v.GetInt("TWO_FACTOR_RECOVERY_CODES"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
		CleanupInterval:   parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "lms-api")
	v.SetDefault("JWT_SINGLE_SESSION", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GRADES_CACHE_ENABLED", false)
	v.SetDefault("GRADES_CACHE_TTL", "5m")

	v.SetDefault("ENROLLMENT_MAX_BULK_SIZE", 200)

	v.SetDefault("TWO_FACTOR_ISSUER", "LMS")
	v.SetDefault("TWO_FACTOR_RECOVERY_CODES", 10)

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("AUDIT_WORKERS", 1)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
