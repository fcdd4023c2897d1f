package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/algomatic/decision-service/pkg/types"
)

// Config holds all configuration for the decision service.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Accounts AccountsConfig `json:"accounts"`
	Service  ServiceConfig  `json:"service"`
	Risk     RiskConfig     `json:"risk"`
	Trailing TrailingConfig `json:"trailing"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"password"`
	MaxConns int32  `json:"max_conns"`
	MinConns int32  `json:"min_conns"`
}

// ConnString builds a PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	DB            int    `json:"db"`
	Password      string `json:"password"`
	ChannelPrefix string `json:"channel_prefix"`
}

// Addr returns host:port for Redis.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AccountsConfig points at the upstream funding sources the account
// aggregator merges.
type AccountsConfig struct {
	FuturesURL     string `json:"futures_url"`
	EquitiesURL    string `json:"equities_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ServiceConfig holds operational parameters.
type ServiceConfig struct {
	Symbols []string `json:"symbols"`
	// AssetClasses maps symbol to "futures" or "equities". Symbols left
	// out of the map trade as futures.
	AssetClasses          map[string]string `json:"asset_classes"`
	Timeframe             string            `json:"timeframe"`
	EvalIntervalSeconds   int               `json:"eval_interval_seconds"`
	BarWindow             int               `json:"bar_window"`
	LogLevel              string            `json:"log_level"`
	MetricsAddr           string            `json:"metrics_addr"`
	TimeFilterEnabled     bool              `json:"time_filter_enabled"`
	VolatilityFilter      bool              `json:"volatility_filter"`
	MinStrength           float64           `json:"min_strength"`
	MaxSignalsPerSymbol   int               `json:"max_signals_per_symbol"`
	AccountID             string            `json:"account_id"`
	DailyResetHourUTC     int               `json:"daily_reset_hour_utc"`
	StartingEquityDollars float64           `json:"starting_equity_dollars"`
}

// RiskConfig carries the limit overrides applied on top of the stock
// risk defaults. Zero values mean "keep the default".
type RiskConfig struct {
	MaxRiskPerTradePercent float64 `json:"max_risk_per_trade_percent"`
	MaxPositionPercent     float64 `json:"max_position_percent"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	MaxDailyLossPercent    float64 `json:"max_daily_loss_percent"`
	MaxWeeklyLossPercent   float64 `json:"max_weekly_loss_percent"`
	MaxDrawdownPercent     float64 `json:"max_drawdown_percent"`
	ConsecutiveLossLimit   int     `json:"consecutive_loss_limit"`
	CooldownMinutes        int     `json:"cooldown_minutes"`
}

// TrailingConfig holds trailing-stop parameters.
type TrailingConfig struct {
	TrailPercent          float64 `json:"trail_percent"`
	ActivationPercent     float64 `json:"activation_percent"`
	MinTrailPercent       float64 `json:"min_trail_percent"`
	UpdateIntervalSeconds int     `json:"update_interval_seconds"`
}

// Load reads config from a JSON file, then overrides with environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
			// File not found is fine — we'll rely on env vars.
		} else {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "algomatic",
			User:     "algomatic",
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{
			Host:          "localhost",
			Port:          6379,
			ChannelPrefix: "algomatic",
		},
		Accounts: AccountsConfig{
			TimeoutSeconds: 10,
		},
		Service: ServiceConfig{
			Symbols:               []string{"ES", "NQ"},
			Timeframe:             "15Min",
			EvalIntervalSeconds:   60,
			BarWindow:             100,
			LogLevel:              "info",
			MetricsAddr:           ":9102",
			TimeFilterEnabled:     true,
			VolatilityFilter:      true,
			MinStrength:           0.3,
			MaxSignalsPerSymbol:   2,
			AccountID:             "default",
			DailyResetHourUTC:     13,
			StartingEquityDollars: 100000,
		},
		Trailing: TrailingConfig{
			TrailPercent:          2,
			ActivationPercent:     1,
			MinTrailPercent:       0.5,
			UpdateIntervalSeconds: 30,
		},
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("ACCOUNTS_FUTURES_URL"); v != "" {
		cfg.Accounts.FuturesURL = v
	}
	if v := os.Getenv("ACCOUNTS_EQUITIES_URL"); v != "" {
		cfg.Accounts.EquitiesURL = v
	}

	if v := os.Getenv("SERVICE_SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Service.Symbols = symbols
		}
	}
	if v := os.Getenv("SERVICE_ASSET_CLASSES"); v != "" {
		// "ES:futures,AAPL:equities"
		classes := make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			symbol, class, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok {
				continue
			}
			if symbol = strings.TrimSpace(symbol); symbol != "" {
				classes[symbol] = strings.TrimSpace(class)
			}
		}
		if len(classes) > 0 {
			cfg.Service.AssetClasses = classes
		}
	}
	if v := os.Getenv("SERVICE_TIMEFRAME"); v != "" {
		cfg.Service.Timeframe = v
	}
	if v := os.Getenv("SERVICE_EVAL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Service.EvalIntervalSeconds = n
		}
	}
	if v := os.Getenv("SERVICE_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("SERVICE_METRICS_ADDR"); v != "" {
		cfg.Service.MetricsAddr = v
	}
	if v := os.Getenv("SERVICE_MIN_STRENGTH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Service.MinStrength = f
		}
	}
	if v := os.Getenv("SERVICE_ACCOUNT_ID"); v != "" {
		cfg.Service.AccountID = v
	}
	if v := os.Getenv("SERVICE_TIME_FILTER"); v != "" {
		cfg.Service.TimeFilterEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SERVICE_VOLATILITY_FILTER"); v != "" {
		cfg.Service.VolatilityFilter = v == "true" || v == "1"
	}

	if v := os.Getenv("TRAILING_TRAIL_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trailing.TrailPercent = f
		}
	}
	if v := os.Getenv("TRAILING_ACTIVATION_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trailing.ActivationPercent = f
		}
	}
}

func validate(cfg *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", cfg.Service.LogLevel)
	}

	switch types.Timeframe(cfg.Service.Timeframe) {
	case types.Timeframe1Min, types.Timeframe5Min, types.Timeframe15Min,
		types.Timeframe1Hour, types.Timeframe1Day:
	default:
		return fmt.Errorf("invalid timeframe %q", cfg.Service.Timeframe)
	}

	if len(cfg.Service.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for symbol, class := range cfg.Service.AssetClasses {
		switch types.AssetClass(class) {
		case types.AssetFutures, types.AssetEquities:
		default:
			return fmt.Errorf("invalid asset class %q for symbol %s", class, symbol)
		}
	}
	if cfg.Service.EvalIntervalSeconds < 1 {
		return fmt.Errorf("eval_interval_seconds must be >= 1, got %d", cfg.Service.EvalIntervalSeconds)
	}
	if cfg.Service.BarWindow < 50 {
		return fmt.Errorf("bar_window must be >= 50, got %d", cfg.Service.BarWindow)
	}
	if cfg.Service.MinStrength < 0 || cfg.Service.MinStrength > 1 {
		return fmt.Errorf("min_strength must be in [0,1], got %v", cfg.Service.MinStrength)
	}
	if cfg.Service.DailyResetHourUTC < 0 || cfg.Service.DailyResetHourUTC > 23 {
		return fmt.Errorf("daily_reset_hour_utc must be in [0,23], got %d", cfg.Service.DailyResetHourUTC)
	}
	if cfg.Service.StartingEquityDollars <= 0 {
		return fmt.Errorf("starting_equity_dollars must be > 0, got %v", cfg.Service.StartingEquityDollars)
	}
	if cfg.Accounts.TimeoutSeconds < 1 {
		return fmt.Errorf("accounts timeout_seconds must be >= 1, got %d", cfg.Accounts.TimeoutSeconds)
	}

	return nil
}
