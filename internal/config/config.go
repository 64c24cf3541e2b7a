package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration.
type Config struct {
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIORegion    string
	MinIOUseSSL    bool

	TargetMB        int64
	Concurrency     int
	RetryAttempts   int
	DetailThreshold int64

	ReportSink         string
	ClickHouseHost     string
	ClickHousePort     string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string
	PostgresDSN        string

	PushgatewayURL string
	LogLevel       slog.Level
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

type ErrInvalidEnvVar struct {
	Name  string
	Value string
	Err   error
}

func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("environment variable %q has invalid value %q: %v", e.Name, e.Value, e.Err)
}

func (e *ErrInvalidEnvVar) Unwrap() error { return e.Err }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &ErrMissingRequiredEnvVar{Name: key}
	}
	return v, nil
}

func positiveInt(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ErrInvalidEnvVar{Name: key, Value: raw, Err: err}
	}
	if n < 1 {
		return 0, &ErrInvalidEnvVar{Name: key, Value: raw, Err: fmt.Errorf("must be at least 1")}
	}
	return n, nil
}

// Load reads configuration from environment variables.
// Returns an error if required variables are missing or malformed.
func Load() (*Config, error) {
	config := Config{
		MinIORegion:        os.Getenv("MINIO_REGION"),
		ReportSink:         strings.ToLower(os.Getenv("REPORT_SINK")),
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     getEnv("CLICKHOUSE_PORT", "9000"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "default"),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		PushgatewayURL:     os.Getenv("PUSHGATEWAY_URL"),
	}

	var err error
	if config.MinIOEndpoint, err = required("MINIO_ENDPOINT"); err != nil {
		return nil, err
	}
	if config.MinIOAccessKey, err = required("MINIO_ACCESS_KEY"); err != nil {
		return nil, err
	}
	if config.MinIOSecretKey, err = required("MINIO_SECRET_KEY"); err != nil {
		return nil, err
	}
	config.MinIOUseSSL = os.Getenv("MINIO_USE_SSL") == "true"

	if config.TargetMB, err = positiveInt("COMPACTOR_TARGET_MB", 512); err != nil {
		return nil, err
	}
	concurrency, err := positiveInt("COMPACTOR_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	config.Concurrency = int(concurrency)
	attempts, err := positiveInt("COMPACTOR_RETRY_ATTEMPTS", 4)
	if err != nil {
		return nil, err
	}
	config.RetryAttempts = int(attempts)
	if config.DetailThreshold, err = positiveInt("COMPACTOR_DETAIL_THRESHOLD", 100_000); err != nil {
		return nil, err
	}

	switch config.ReportSink {
	case "", "clickhouse":
	case "postgres":
		if config.PostgresDSN == "" {
			return nil, &ErrMissingRequiredEnvVar{Name: "POSTGRES_DSN"}
		}
	default:
		return nil, &ErrInvalidEnvVar{Name: "REPORT_SINK", Value: config.ReportSink, Err: fmt.Errorf("want clickhouse or postgres")}
	}

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := config.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return nil, &ErrInvalidEnvVar{Name: "LOG_LEVEL", Value: raw, Err: err}
		}
	}

	return &config, nil
}
