package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app" yaml:"app"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Backtest   BacktestConfig   `mapstructure:"backtest" yaml:"backtest"`
	Risk       RiskConfig       `mapstructure:"risk" yaml:"risk"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Version     string `mapstructure:"version" yaml:"version"`
	Environment string `mapstructure:"environment" yaml:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"` // "json" or "console"
}

// DatabaseConfig contains the optional Postgres persistence layer's settings.
// A zero-value Host disables persistence; callers fall back to an
// in-memory store.Store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// BacktestConfig contains default backtest engine settings.
type BacktestConfig struct {
	InitialCapital  float64 `mapstructure:"initial_capital" yaml:"initial_capital"`
	CommissionModel string  `mapstructure:"commission_model" yaml:"commission_model"` // fixed, per_share, percentage, tiered
	CommissionValue float64 `mapstructure:"commission_value" yaml:"commission_value"`
	SlippageModel   string  `mapstructure:"slippage_model" yaml:"slippage_model"` // fixed_dollar, fixed_bps, percentage, volume
	SlippageValue   float64 `mapstructure:"slippage_value" yaml:"slippage_value"`
	SizingMethod    string  `mapstructure:"sizing_method" yaml:"sizing_method"` // fixed, percent_equity, kelly
	SizingParam     float64 `mapstructure:"sizing_param" yaml:"sizing_param"`
	MaxPositions    int     `mapstructure:"max_positions" yaml:"max_positions"`
	RiskFreeRate    float64 `mapstructure:"risk_free_rate" yaml:"risk_free_rate"`
}

// RiskConfig contains default risk-analytics settings.
type RiskConfig struct {
	VaRConfidence      float64 `mapstructure:"var_confidence" yaml:"var_confidence"`
	VaRMethod          string  `mapstructure:"var_method" yaml:"var_method"` // historical, parametric, monte_carlo
	MonteCarloTrials   int     `mapstructure:"monte_carlo_trials" yaml:"monte_carlo_trials"`
	StressTestsEnabled bool    `mapstructure:"stress_tests_enabled" yaml:"stress_tests_enabled"`
	KellyVariant       string  `mapstructure:"kelly_variant" yaml:"kelly_variant"` // full, half, quarter
}

// MonitoringConfig contains Prometheus exposition settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port" yaml:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics" yaml:"enable_metrics"`
}

// GetDSN returns the PostgreSQL connection string for the database/sql and
// pgx drivers.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Enabled reports whether persistence is configured.
func (c *DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// Load loads configuration from file and environment variables, falling
// back to setDefaults when no config file is present.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("BACKTESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "backtester")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "backtester")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("backtest.initial_capital", 100_000.0)
	v.SetDefault("backtest.commission_model", "percentage")
	v.SetDefault("backtest.commission_value", 0.001)
	v.SetDefault("backtest.slippage_model", "fixed_bps")
	v.SetDefault("backtest.slippage_value", 5.0)
	v.SetDefault("backtest.sizing_method", "fixed")
	v.SetDefault("backtest.sizing_param", 100.0)
	v.SetDefault("backtest.max_positions", 10)
	v.SetDefault("backtest.risk_free_rate", 0.02)

	v.SetDefault("risk.var_confidence", 0.95)
	v.SetDefault("risk.var_method", "historical")
	v.SetDefault("risk.monte_carlo_trials", 10000)
	v.SetDefault("risk.stress_tests_enabled", true)
	v.SetDefault("risk.kelly_variant", "half")

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}
