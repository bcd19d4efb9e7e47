package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerConfig     ServerConfig     `json:"server"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	EngineConfig     EngineConfig     `json:"engine"`
	AggregatorConfig AggregatorConfig `json:"aggregator"`
}

// ServerConfig holds the HTTP API server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ProductionMode  bool   `json:"production_mode"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds to wait for in-flight requests
	RateLimit       int    `json:"rate_limit"`       // Max run submissions per minute per client
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	TTL      int    `json:"ttl"` // Cached run result TTL in seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON (console format otherwise)
}

// EngineConfig holds waterfall computation defaults
type EngineConfig struct {
	DayCountConvention string `json:"day_count_convention"` // ACT/365, ACT/360, or 30/360
}

// AggregatorConfig holds the cash flow aggregation configuration
type AggregatorConfig struct {
	CostSections         []string `json:"cost_sections"`
	RevenueSections      []string `json:"revenue_sections"`
	UnknownSectionPolicy string   `json:"unknown_section_policy"` // "error" or "exclude"
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: database and Redis passwords are read from the environment only, never
// committed in config.json.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION_MODE", "false") == "true"
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 15))
	cfg.ServerConfig.RateLimit = getEnvIntOrDefault("SERVER_RATE_LIMIT", defaultInt(cfg.ServerConfig.RateLimit, 60))

	// Database config
	if v := os.Getenv("DATABASE_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true"
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultStr(cfg.DatabaseConfig.User, "waterfall"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "waterfall"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.TTL = getEnvIntOrDefault("REDIS_TTL", defaultInt(cfg.RedisConfig.TTL, 86400))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultStr(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Engine config
	cfg.EngineConfig.DayCountConvention = getEnvOrDefault("ENGINE_DAY_COUNT", defaultStr(cfg.EngineConfig.DayCountConvention, "ACT/365"))

	// Aggregator config
	if v := os.Getenv("AGGREGATOR_COST_SECTIONS"); v != "" {
		cfg.AggregatorConfig.CostSections = splitList(v)
	}
	if v := os.Getenv("AGGREGATOR_REVENUE_SECTIONS"); v != "" {
		cfg.AggregatorConfig.RevenueSections = splitList(v)
	}
	cfg.AggregatorConfig.UnknownSectionPolicy = getEnvOrDefault("AGGREGATOR_UNKNOWN_POLICY", defaultStr(cfg.AggregatorConfig.UnknownSectionPolicy, "error"))
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	switch c.EngineConfig.DayCountConvention {
	case "ACT/365", "ACT/360", "30/360":
	default:
		return fmt.Errorf("invalid day count convention %q (want ACT/365, ACT/360, or 30/360)", c.EngineConfig.DayCountConvention)
	}

	switch c.AggregatorConfig.UnknownSectionPolicy {
	case "error", "exclude":
	default:
		return fmt.Errorf("invalid unknown section policy %q (want error or exclude)", c.AggregatorConfig.UnknownSectionPolicy)
	}

	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerConfig.Port)
	}

	if c.DatabaseConfig.Enabled && c.DatabaseConfig.Database == "" {
		return fmt.Errorf("database is enabled but no database name is configured")
	}

	return nil
}

// CacheTTL returns the configured run result TTL as a duration.
func (c *RedisConfig) CacheTTL() time.Duration {
	if c.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TTL) * time.Second
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func defaultStr(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ProductionMode:  false,
			ShutdownTimeout: 15,
			RateLimit:       60,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "waterfall",
			Database: "waterfall",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			DB:       0,
			PoolSize: 10,
			TTL:      86400,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		EngineConfig: EngineConfig{
			DayCountConvention: "ACT/365",
		},
		AggregatorConfig: AggregatorConfig{
			CostSections:         []string{"operating expenses", "capital expenditures", "debt service", "asset management fees"},
			RevenueSections:      []string{"rental income", "sale proceeds", "refinancing proceeds", "other income"},
			UnknownSectionPolicy: "error",
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
