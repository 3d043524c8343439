package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Log      LogConfig
	Keygen   KeygenConfig
	Limits   ResultLimits
	Audit    AuditConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s Timezone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// KeygenConfig controls random primary-key generation for operator records.
// Length is the total decimal digit count; Prefix occupies the high-order
// digits, so registries deployed with distinct prefixes never hand out
// colliding keys.
type KeygenConfig struct {
	OperatorKeyLength int
	OperatorKeyPrefix int64
	MaxAttempts       int
}

// ResultLimits caps examination result payloads. Loaded once at boot and
// passed into the result-type validators, never read ambiently.
type ResultLimits struct {
	MaxFieldLength int
	MaxMarkers     int
	MaxContingents int
}

type AuditConfig struct {
	BufferSize      int
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "screening-registry"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "screening"),
			User:            getEnv("DB_USER", "screening"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Keygen: KeygenConfig{
			OperatorKeyLength: getEnvInt("KEYGEN_OPERATOR_LENGTH", 8),
			OperatorKeyPrefix: getEnvInt64("KEYGEN_OPERATOR_PREFIX", 1),
			MaxAttempts:       getEnvInt("KEYGEN_MAX_ATTEMPTS", 3),
		},
		Limits: ResultLimits{
			MaxFieldLength: getEnvInt("RESULT_MAX_FIELD_LENGTH", 64),
			MaxMarkers:     getEnvInt("RESULT_MAX_MARKERS", 20),
			MaxContingents: getEnvInt("RESULT_MAX_CONTINGENTS", 10),
		},
		Audit: AuditConfig{
			BufferSize:      getEnvInt("AUDIT_BUFFER_SIZE", 10_000),
			ShutdownTimeout: getEnvDuration("AUDIT_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Database.Password == "" && cfg.App.Environment != "development" {
		errs = append(errs, "DB_PASSWORD is required in non-development environments")
	}

	if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
		errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
	}

	if cfg.Keygen.OperatorKeyLength < 4 || cfg.Keygen.OperatorKeyLength > 18 {
		errs = append(errs, "KEYGEN_OPERATOR_LENGTH must be between 4 and 18")
	}

	if cfg.Keygen.OperatorKeyPrefix <= 0 {
		errs = append(errs, "KEYGEN_OPERATOR_PREFIX must be positive")
	}

	if len(strconv.FormatInt(cfg.Keygen.OperatorKeyPrefix, 10)) >= cfg.Keygen.OperatorKeyLength {
		errs = append(errs, "KEYGEN_OPERATOR_PREFIX must leave room for random digits")
	}

	if cfg.Keygen.MaxAttempts < 1 {
		errs = append(errs, "KEYGEN_MAX_ATTEMPTS must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
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
