package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"agency-sales-monitor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Advisory  AdvisoryConfig  `mapstructure:"advisory"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs monitoring cadence and strategy selection.
type SchedulerConfig struct {
	IntervalMinutes       int           `mapstructure:"interval_minutes"`
	Strategy              string        `mapstructure:"strategy"`
	IntelligentPercentage float64       `mapstructure:"intelligent_percentage"`
	ContinuousDelay       time.Duration `mapstructure:"continuous_delay"`
	AdvisoryLockKey       int64         `mapstructure:"advisory_lock_key"`
	StartOnLaunch         bool          `mapstructure:"start_on_launch"`
}

// PortalConfig covers access to the operator monitoring portal.
type PortalConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PageLoadWait   time.Duration `mapstructure:"page_load_wait"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	UserAgent      string        `mapstructure:"user_agent"`
	MinSalesFilter float64       `mapstructure:"min_sales_filter"`
	Simulated      bool          `mapstructure:"simulated"`
}

// AlertingConfig defines alert thresholds, rule toggles, and row filters.
type AlertingConfig struct {
	BalanceThreshold      float64  `mapstructure:"balance_threshold"`
	SalesThreshold        float64  `mapstructure:"sales_threshold"`
	GrowthVariationDelta  float64  `mapstructure:"growth_variation_delta"`
	SustainedGrowthDelta  float64  `mapstructure:"sustained_growth_delta"`
	EnableThresholdAlerts bool     `mapstructure:"enable_threshold_alerts"`
	EnableGrowthAlerts    bool     `mapstructure:"enable_growth_alerts"`
	SkipAgencyKeywords    []string `mapstructure:"skip_agency_keywords"`
	BatchSize             int      `mapstructure:"batch_size"`
}

// AdvisoryConfig tunes the heuristic advisory engine.
type AdvisoryConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	RiskThreshold       float64 `mapstructure:"risk_threshold"`
	HistoryWindow       int     `mapstructure:"history_window"`
	Detector            string  `mapstructure:"detector"`
}

// APIConfig governs the dashboard HTTP server.
type APIConfig struct {
	ListenAddr     string  `mapstructure:"listen_addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENCYMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "agencymon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("scheduler.interval_minutes", 15)
	v.SetDefault("scheduler.strategy", "classic")
	v.SetDefault("scheduler.intelligent_percentage", 0.0)
	v.SetDefault("scheduler.continuous_delay", "10s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x61676d6f))
	v.SetDefault("scheduler.start_on_launch", false)

	v.SetDefault("portal.base_url", "https://portal.example.com")
	v.SetDefault("portal.request_timeout", "30s")
	v.SetDefault("portal.page_load_wait", "10s")
	v.SetDefault("portal.max_retries", 3)
	v.SetDefault("portal.retry_base_delay", "2s")
	v.SetDefault("portal.user_agent", "agencymon/1.0")
	v.SetDefault("portal.min_sales_filter", 0.0)
	v.SetDefault("portal.simulated", false)

	v.SetDefault("alerting.balance_threshold", 6000.0)
	v.SetDefault("alerting.sales_threshold", 20000.0)
	v.SetDefault("alerting.growth_variation_delta", 1500.0)
	v.SetDefault("alerting.sustained_growth_delta", 500.0)
	v.SetDefault("alerting.enable_threshold_alerts", true)
	v.SetDefault("alerting.enable_growth_alerts", true)
	v.SetDefault("alerting.skip_agency_keywords", []string{"suriel", "total general"})
	v.SetDefault("alerting.batch_size", 50)

	v.SetDefault("advisory.enabled", true)
	v.SetDefault("advisory.confidence_threshold", 0.7)
	v.SetDefault("advisory.risk_threshold", 0.7)
	v.SetDefault("advisory.history_window", 10)
	v.SetDefault("advisory.detector", "iqr")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.rate_limit_rps", 25.0)
	v.SetDefault("api.rate_limit_burst", 50)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.interval_minutes must be greater than zero")
	}
	switch c.Scheduler.Strategy {
	case "classic", "intelligent", "comparison":
	default:
		return fmt.Errorf("scheduler.strategy must be classic, intelligent, or comparison")
	}
	if c.Scheduler.IntelligentPercentage < 0 || c.Scheduler.IntelligentPercentage > 100 {
		return fmt.Errorf("scheduler.intelligent_percentage must be within [0,100]")
	}
	if c.Alerting.BalanceThreshold < 0 || c.Alerting.SalesThreshold < 0 {
		return fmt.Errorf("alerting thresholds cannot be negative")
	}
	if c.Alerting.GrowthVariationDelta < 0 || c.Alerting.SustainedGrowthDelta < 0 {
		return fmt.Errorf("alerting growth deltas cannot be negative")
	}
	if c.Alerting.BatchSize <= 0 {
		return fmt.Errorf("alerting.batch_size must be greater than zero")
	}
	if c.Advisory.ConfidenceThreshold < 0 || c.Advisory.ConfidenceThreshold > 1 {
		return fmt.Errorf("advisory.confidence_threshold must be within [0,1]")
	}
	if c.Advisory.Detector != "" && c.Advisory.Detector != "iqr" && c.Advisory.Detector != "zscore" {
		return fmt.Errorf("advisory.detector must be iqr or zscore")
	}
	if c.Portal.MaxRetries <= 0 {
		return fmt.Errorf("portal.max_retries must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if !c.Portal.Simulated && c.Portal.Username == "" {
		return fmt.Errorf("portal.username is required unless portal.simulated is set")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
