package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment  string             `mapstructure:"environment"`
	LogLevel     string             `mapstructure:"log_level"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Venues       []VenueConfig      `mapstructure:"venues"`
	Coverage     CoverageConfig     `mapstructure:"coverage"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Liquidity    LiquidityConfig    `mapstructure:"liquidity"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Signals      SignalConfig       `mapstructure:"signals"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// VenueConfig describes one launch venue to watch.
type VenueConfig struct {
	ID               string   `mapstructure:"id"`
	Venue            string   `mapstructure:"venue"`
	Chain            string   `mapstructure:"chain"`
	RPCURL           string   `mapstructure:"rpc_url"`
	FactoryAddresses []string `mapstructure:"factory_addresses"`
	PollIntervalMs   int      `mapstructure:"poll_interval_ms"`
	MaxBlocksPerScan uint64   `mapstructure:"max_blocks_per_scan"`
	RateLimit        float64  `mapstructure:"rate_limit"`
	ChunkSize        uint64   `mapstructure:"chunk_size"`
}

type CoverageConfig struct {
	WindowHours     int `mapstructure:"window_hours"`
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

type DistributionConfig struct {
	WindowHours      int     `mapstructure:"window_hours"`
	IntervalMinutes  int     `mapstructure:"interval_minutes"`
	Top10Threshold   float64 `mapstructure:"top10_threshold"`
	CreatorThreshold float64 `mapstructure:"creator_threshold"`
}

// LiquidityConfig configures the pool monitor. An empty pair_factory
// disables liquidity monitoring for the deployment.
type LiquidityConfig struct {
	WindowHours          int     `mapstructure:"window_hours"`
	IntervalMinutes      int     `mapstructure:"interval_minutes"`
	DropThresholdPercent float64 `mapstructure:"drop_threshold_percent"`
	PairFactory          string  `mapstructure:"pair_factory"`
	QuoteToken           string  `mapstructure:"quote_token"`
	QuoteUsd             float64 `mapstructure:"quote_usd"`
	QuoteDecimals        int     `mapstructure:"quote_decimals"`
}

type RiskConfig struct {
	MaxOrderUsd     float64 `mapstructure:"max_order_usd"`
	MaxPositionUsd  float64 `mapstructure:"max_position_usd"`
	MaxDailyLossUsd float64 `mapstructure:"max_daily_loss_usd"`
	MaxSlippageBps  int     `mapstructure:"max_slippage_bps"`
	CooldownSeconds int     `mapstructure:"cooldown_seconds"`
	DryRunMode      bool    `mapstructure:"dry_run_mode"`
}

type SignalConfig struct {
	SubscriberTimeout string `mapstructure:"subscriber_timeout"`
}

// Load reads config.yaml (plus .env and LAUNCHSENTRY_* env overrides) and
// validates the result.
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.SetEnvPrefix("LAUNCHSENTRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that would leave a connector unable to
// start. A misconfigured venue is fatal at load time, not at scan time.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("venue %d: id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("venue %s: duplicate id", v.ID)
		}
		seen[v.ID] = true
		if v.RPCURL == "" {
			return fmt.Errorf("venue %s: rpc_url is required", v.ID)
		}
		if v.Chain == "" {
			return fmt.Errorf("venue %s: chain is required", v.ID)
		}
		if v.RateLimit <= 0 {
			return fmt.Errorf("venue %s: rate_limit must be positive", v.ID)
		}
	}
	if c.Risk.MaxSlippageBps < 0 || c.Risk.MaxSlippageBps > 10000 {
		return fmt.Errorf("risk.max_slippage_bps must be in [0,10000], got %d", c.Risk.MaxSlippageBps)
	}
	if _, err := time.ParseDuration(c.Signals.SubscriberTimeout); err != nil {
		return fmt.Errorf("invalid signals.subscriber_timeout: %w", err)
	}
	return nil
}

// SubscriberTimeoutDuration returns the parsed per-subscriber fan-out budget.
func (c *Config) SubscriberTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Signals.SubscriberTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "launchsentry")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_conns", 10)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")

	viper.SetDefault("coverage.window_hours", 1)
	viper.SetDefault("coverage.interval_minutes", 60)

	viper.SetDefault("distribution.window_hours", 24)
	viper.SetDefault("distribution.interval_minutes", 30)
	viper.SetDefault("distribution.top10_threshold", 40.0)
	viper.SetDefault("distribution.creator_threshold", 20.0)

	viper.SetDefault("liquidity.window_hours", 24)
	viper.SetDefault("liquidity.interval_minutes", 15)
	viper.SetDefault("liquidity.drop_threshold_percent", 50.0)
	viper.SetDefault("liquidity.pair_factory", "")
	viper.SetDefault("liquidity.quote_token", "")
	viper.SetDefault("liquidity.quote_usd", 0.0)
	viper.SetDefault("liquidity.quote_decimals", 18)

	viper.SetDefault("risk.max_order_usd", 500.0)
	viper.SetDefault("risk.max_position_usd", 2000.0)
	viper.SetDefault("risk.max_daily_loss_usd", 1000.0)
	viper.SetDefault("risk.max_slippage_bps", 300)
	viper.SetDefault("risk.cooldown_seconds", 60)
	viper.SetDefault("risk.dry_run_mode", true)

	viper.SetDefault("signals.subscriber_timeout", "2s")
}
