package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// KafkaConfig holds event streaming configuration
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// RedisConfig holds Redis settings for rate limiting
type RedisConfig struct {
	Enabled bool
	Addr    string
}

// JobsConfig holds background job intervals
type JobsConfig struct {
	StatisticsInterval time.Duration
	ExpiryInterval     time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	RedeemRateLimit int // requests per minute per client on the public redeem endpoint
	AllowedOrigin   string
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	// Database configuration
	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	// Kafka configuration
	if cfg.Kafka.Brokers, err = requireEnv("KAFKA_BROKERS"); err != nil {
		return nil, err
	}
	cfg.Kafka.Topic = getEnvWithDefault("KAFKA_TOPIC", "referral-events")

	// Redis configuration (optional, rate limiting degrades without it)
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	// Job intervals
	statsInterval := getEnvWithDefault("STATS_SNAPSHOT_INTERVAL", "15m")
	cfg.Jobs.StatisticsInterval, err = time.ParseDuration(statsInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to parse STATS_SNAPSHOT_INTERVAL: %w", err)
	}

	expiryInterval := getEnvWithDefault("REFERRAL_EXPIRY_INTERVAL", "1h")
	cfg.Jobs.ExpiryInterval, err = time.ParseDuration(expiryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REFERRAL_EXPIRY_INTERVAL: %w", err)
	}

	// Server configuration
	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	redeemRateLimit := getEnvWithDefault("REDEEM_RATE_LIMIT", "60")
	cfg.Server.RedeemRateLimit, err = strconv.Atoi(redeemRateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDEEM_RATE_LIMIT: %w", err)
	}

	cfg.Server.AllowedOrigin = getEnvWithDefault("ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
