package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"asset-pipeline/core/fanin"
	"asset-pipeline/core/models"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string
	StoreDriver string // postgres | memory

	// Server
	ServerPort string
	LogMode    string

	// AWS
	AWSRegion        string
	BatchEndpointURL string

	// Scheduling
	MaxScheduleRounds int
	MaxFanInParents   int
	PipelineWorkers   int
	MonitorInterval   time.Duration
	JobPresetsFile    string

	// Status reporting from job containers
	APIURL              string
	ServiceAccountToken string

	// Writer credentials handed to job containers
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         getEnv("DATABASE_URL", "postgres://localhost/asset_pipeline?sslmode=disable"),
		StoreDriver:         getEnv("STORE_DRIVER", "postgres"),
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		LogMode:             getEnv("LOG_MODE", "production"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		BatchEndpointURL:    getEnv("BATCH_ENDPOINT_URL", ""),
		JobPresetsFile:      getEnv("JOB_PRESETS_FILE", ""),
		APIURL:              getEnv("API_URL", "http://localhost:8080"),
		ServiceAccountToken: getEnv("SERVICE_ACCOUNT_TOKEN", ""),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBName:              getEnv("DATABASE", "geostore"),
		DBUser:              getEnv("DB_USER", ""),
		DBPassword:          getEnv("DB_PASSWORD", ""),
	}

	var err error
	if cfg.MaxScheduleRounds, err = getEnvInt("MAX_SCHEDULE_ROUNDS", 10); err != nil {
		return nil, err
	}
	if cfg.MaxFanInParents, err = getEnvInt("MAX_FAN_IN_PARENTS", 16); err != nil {
		return nil, err
	}
	if cfg.PipelineWorkers, err = getEnvInt("PIPELINE_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.MonitorInterval, err = getEnvDuration("MONITOR_INTERVAL", 0); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver)
	}
	if cfg.MaxScheduleRounds < 1 {
		return nil, fmt.Errorf("MAX_SCHEDULE_ROUNDS must be at least 1")
	}
	if cfg.MaxFanInParents < 1 || cfg.MaxFanInParents > fanin.MaxRemoteParents {
		return nil, fmt.Errorf("MAX_FAN_IN_PARENTS must be between 1 and %d", fanin.MaxRemoteParents)
	}
	if cfg.PipelineWorkers < 1 {
		return nil, fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	return cfg, nil
}

// StatusURL is where job containers report task status
func (c *Config) StatusURL() string {
	u, err := url.JoinPath(c.APIURL, "v1", "tasks")
	if err != nil {
		return c.APIURL
	}
	return u
}

// JobEnvironment returns the environment every submitted job receives: the
// status reporting variables and the database writer credentials.
func (c *Config) JobEnvironment() []models.KeyValue {
	return []models.KeyValue{
		{Name: "STATUS_URL", Value: c.StatusURL()},
		{Name: "SERVICE_ACCOUNT_TOKEN", Value: c.ServiceAccountToken},
		{Name: "AWS_REGION", Value: c.AWSRegion},
		{Name: "PGPASSWORD", Value: c.DBPassword},
		{Name: "PGHOST", Value: c.DBHost},
		{Name: "PGPORT", Value: c.DBPort},
		{Name: "PGDATABASE", Value: c.DBName},
		{Name: "PGUSER", Value: c.DBUser},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
