package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every configuration item for the service.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Monitor  MonitorConfig
	LogLevel string
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	// Type is one of "memory", "file", "redis", "postgres".
	Type          string
	FilePath      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
}

// MonitorConfig drives the idle-expiry sweep.
type MonitorConfig struct {
	Interval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	monitor, err := loadMonitorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Storage:  store,
		Monitor:  monitor,
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func loadStorageConfig() (StorageConfig, error) {
	redisDB, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return StorageConfig{}, err
	}
	db := 0
	if redisDB != nil {
		db = *redisDB
	}

	return StorageConfig{
		Type:          strings.ToLower(getEnvOrDefault("DATABASE_TYPE", "file")),
		FilePath:      getEnvOrDefault("FILE_DB_PATH", "db.json"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       db,
		PostgresDSN:   strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
	}, nil
}

func loadMonitorConfig() (MonitorConfig, error) {
	raw := strings.TrimSpace(os.Getenv("MONITOR_INTERVAL"))
	if raw == "" {
		return MonitorConfig{Interval: time.Minute}, nil
	}

	interval, err := time.ParseDuration(raw)
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("invalid MONITOR_INTERVAL value %q: %w", raw, err)
	}
	if interval <= 0 {
		return MonitorConfig{}, fmt.Errorf("MONITOR_INTERVAL must be positive, got %q", raw)
	}
	return MonitorConfig{Interval: interval}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
