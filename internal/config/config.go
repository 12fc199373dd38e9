package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"services/backtest-service/internal/backtest"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Upbit    UpbitConfig
	Backtest BacktestConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Backtest submissions per client and minute; 0 disables the limit
	RateLimitPerMinute int
	RateLimitBurst     int
}

// DatabaseConfig holds database specific configuration.
// Results and strategies are kept in memory when disabled.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the candle cache configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig holds Kafka specific configuration
type KafkaConfig struct {
	Enabled bool
	Brokers string
	Topics  map[string]string
}

// Topic returns the configured topic for name or fallback.
// Keys are matched case-insensitively as viper lowercases them.
func (k KafkaConfig) Topic(name, fallback string) string {
	if topic, ok := k.Topics[strings.ToLower(name)]; ok && topic != "" {
		return topic
	}
	return fallback
}

// UpbitConfig holds the candle API configuration
type UpbitConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	PageSize   int
}

// BacktestConfig holds the engine limits and execution parameters
type BacktestConfig struct {
	MinCandleCount       int
	MaxCandleCount       int
	MaxConcurrentRuns    int
	RunTimeout           time.Duration
	Timezone             string
	PositionSizeFraction float64
	FeeRate              float64
	MinTradeInterval     time.Duration
	CheckEvery           int
}

// AuthConfig holds JWT settings. Authentication is off when the secret is empty.
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Simulator converts the section into simulator settings
func (c BacktestConfig) Simulator() (backtest.Config, error) {
	loc := time.UTC
	if c.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(c.Timezone)
		if err != nil {
			return backtest.Config{}, fmt.Errorf("invalid backtest timezone %q: %w", c.Timezone, err)
		}
	}
	return backtest.Config{
		PositionSizeFraction: c.PositionSizeFraction,
		FeeRate:              c.FeeRate,
		MinTradeInterval:     c.MinTradeInterval,
		Location:             loc,
		CheckEvery:           c.CheckEvery,
	}, nil
}

// LoadConfig loads the configuration from file and environment variables.
// An empty path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override, e.g. BACKTEST_MAXCANDLECOUNT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Backtest.MinCandleCount > cfg.Backtest.MaxCandleCount {
		return nil, fmt.Errorf("backtest.minCandleCount %d exceeds backtest.maxCandleCount %d",
			cfg.Backtest.MinCandleCount, cfg.Backtest.MaxCandleCount)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "150s")
	v.SetDefault("server.idleTimeout", "120s")
	v.SetDefault("server.rateLimitPerMinute", 30)
	v.SetDefault("server.rateLimitBurst", 5)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topics.backtestCompleted", "backtest.completed")

	// Upbit defaults
	v.SetDefault("upbit.baseURL", "https://api.upbit.com")
	v.SetDefault("upbit.timeout", "10s")
	v.SetDefault("upbit.maxRetries", 3)
	v.SetDefault("upbit.pageSize", 200)

	// Backtest defaults
	v.SetDefault("backtest.minCandleCount", 100)
	v.SetDefault("backtest.maxCandleCount", 129600)
	v.SetDefault("backtest.maxConcurrentRuns", 4)
	v.SetDefault("backtest.runTimeout", "2m")
	v.SetDefault("backtest.timezone", "UTC")
	v.SetDefault("backtest.positionSizeFraction", 0.9)
	v.SetDefault("backtest.feeRate", 0.0005)
	v.SetDefault("backtest.minTradeInterval", "60s")
	v.SetDefault("backtest.checkEvery", 1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
