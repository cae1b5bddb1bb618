package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange   Exchange   `mapstructure:"exchange"`
	MarketData MarketData `mapstructure:"market_data"`
	Trading    Trading    `mapstructure:"trading"`
	Scheduler  Scheduler  `mapstructure:"scheduler"`
	PriceFeed  PriceFeed  `mapstructure:"price_feed"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Exchange holds the configuration for the order execution API.
type Exchange struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// MarketData holds the configuration for the market data provider.
type MarketData struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds the configuration for the auto-trade engine.
type Trading struct {
	DryRun bool `mapstructure:"dry_run"`
}

// Scheduler holds the configuration for the daily pipeline.
type Scheduler struct {
	DailyAt             string `mapstructure:"daily_at"`
	BatchSize           int    `mapstructure:"batch_size"`
	BatchDelayMs        int    `mapstructure:"batch_delay_ms"`
	StalenessMinutes    int    `mapstructure:"staleness_minutes"`
	HistoryDays         int    `mapstructure:"history_days"`
	DBRetryAttempts     int    `mapstructure:"db_retry_attempts"`
	DBRetryBackoffMs    int    `mapstructure:"db_retry_backoff_ms"`
	LogRetentionDays    int    `mapstructure:"log_retention_days"`
	StatusRetentionDays int    `mapstructure:"status_retention_days"`
}

// PriceFeed holds the configuration for the live tick stream and the quote
// polling fallback used when no stream URL is set.
type PriceFeed struct {
	URL                string `mapstructure:"url"`
	ReconnectBackoffMs int    `mapstructure:"reconnect_backoff_ms"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("exchange.rate_limit", 10)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("market_data.rate_limit", 20)
	viper.SetDefault("market_data.rate_limit_burst", 5)
	viper.SetDefault("scheduler.daily_at", "06:00")
	viper.SetDefault("scheduler.batch_size", 5)
	viper.SetDefault("scheduler.batch_delay_ms", 500)
	viper.SetDefault("scheduler.staleness_minutes", 60)
	viper.SetDefault("scheduler.history_days", 30)
	viper.SetDefault("scheduler.db_retry_attempts", 3)
	viper.SetDefault("scheduler.db_retry_backoff_ms", 250)
	viper.SetDefault("scheduler.log_retention_days", 90)
	viper.SetDefault("scheduler.status_retention_days", 90)
	viper.SetDefault("price_feed.reconnect_backoff_ms", 2000)
	viper.SetDefault("price_feed.poll_interval_ms", 60000)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
