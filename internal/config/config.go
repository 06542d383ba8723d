// Package config provides configuration management for the trader mirror
// service. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Vault    VaultConfig
	Sync     SyncConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

// ServerConfig holds ops server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// BrokerConfig holds remote brokerage API configuration
type BrokerConfig struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond int
	MaxOrderPages     int // bound on anchored incremental order walks
	OrderPageSize     int
}

// VaultConfig holds credential vault configuration
type VaultConfig struct {
	Secret string // shared secret feeding HKDF; never logged
}

// SyncConfig holds sync engine configuration
type SyncConfig struct {
	Workers          int
	MaxAttempts      int           // queue retries before dead-lettering
	BackoffCap       time.Duration // cap on queue retry delay
	CycleInterval    time.Duration // reconciliation cycle period
	RecoveryLimit    int           // max stale accounts re-enqueued per cycle
	FailureGrace     time.Duration // purge accounts failing longer than this
	EquityWindowDays int
	TradeWindow      int
	AnnualRiskFree   float64 // annualized risk-free rate for Sharpe ratios
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	RankingTTL time.Duration
	AccountTTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "trader_mirror"),
				User:           getEnv("POSTGRES_USER", "mirror"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Broker: BrokerConfig{
			BaseURL:           getEnv("BROKER_BASE_URL", "https://api.broker.example.com"),
			RequestTimeout:    getEnvAsDuration("BROKER_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsInt("BROKER_REQUESTS_PER_SECOND", 50),
			MaxOrderPages:     getEnvAsInt("BROKER_MAX_ORDER_PAGES", 20),
			OrderPageSize:     getEnvAsInt("BROKER_ORDER_PAGE_SIZE", 500),
		},
		Vault: VaultConfig{
			Secret: getEnv("VAULT_SECRET", ""),
		},
		Sync: SyncConfig{
			Workers:          getEnvAsInt("SYNC_WORKERS", 16),
			MaxAttempts:      getEnvAsInt("SYNC_MAX_ATTEMPTS", 10),
			BackoffCap:       getEnvAsDuration("SYNC_BACKOFF_CAP", 6*time.Hour),
			CycleInterval:    getEnvAsDuration("SYNC_CYCLE_INTERVAL", 15*time.Minute),
			RecoveryLimit:    getEnvAsInt("SYNC_RECOVERY_LIMIT", 500),
			FailureGrace:     getEnvAsDuration("SYNC_FAILURE_GRACE", 7*24*time.Hour),
			EquityWindowDays: getEnvAsInt("SYNC_EQUITY_WINDOW_DAYS", 365),
			TradeWindow:      getEnvAsInt("SYNC_TRADE_WINDOW", 200),
			AnnualRiskFree:   getEnvAsFloat("SYNC_ANNUAL_RISK_FREE", 0.05),
		},
		Cache: CacheConfig{
			RankingTTL: getEnvAsDuration("CACHE_RANKING_TTL", 15*time.Minute),
			AccountTTL: getEnvAsDuration("CACHE_ACCOUNT_TTL", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects invalid operator input synchronously, before any of it
// is applied.
func (c *Config) Validate() error {
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("invalid config: SYNC_WORKERS must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("invalid config: SYNC_MAX_ATTEMPTS must be positive, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.BackoffCap <= 0 {
		return fmt.Errorf("invalid config: SYNC_BACKOFF_CAP must be positive, got %v", c.Sync.BackoffCap)
	}
	if c.Sync.RecoveryLimit <= 0 {
		return fmt.Errorf("invalid config: SYNC_RECOVERY_LIMIT must be positive, got %d", c.Sync.RecoveryLimit)
	}
	if c.Sync.EquityWindowDays <= 0 || c.Sync.EquityWindowDays > 365 {
		return fmt.Errorf("invalid config: SYNC_EQUITY_WINDOW_DAYS must be in (0, 365], got %d", c.Sync.EquityWindowDays)
	}
	if c.Sync.TradeWindow <= 0 || c.Sync.TradeWindow > 200 {
		return fmt.Errorf("invalid config: SYNC_TRADE_WINDOW must be in (0, 200], got %d", c.Sync.TradeWindow)
	}
	if c.Sync.AnnualRiskFree < 0 || c.Sync.AnnualRiskFree >= 1 {
		return fmt.Errorf("invalid config: SYNC_ANNUAL_RISK_FREE must be in [0, 1), got %v", c.Sync.AnnualRiskFree)
	}
	if c.Broker.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid config: BROKER_REQUESTS_PER_SECOND must be positive, got %d", c.Broker.RequestsPerSecond)
	}
	if c.Broker.MaxOrderPages <= 0 {
		return fmt.Errorf("invalid config: BROKER_MAX_ORDER_PAGES must be positive, got %d", c.Broker.MaxOrderPages)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
