// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Valuation ValuationConfig `yaml:"valuation" mapstructure:"valuation"`
	Anomaly   AnomalyConfig   `yaml:"anomaly" mapstructure:"anomaly"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ResolverConfig holds the fuzzy match thresholds for entity resolution.
type ResolverConfig struct {
	MaterialThreshold float64 `yaml:"material_threshold" mapstructure:"material_threshold"`
	CompanyThreshold  float64 `yaml:"company_threshold" mapstructure:"company_threshold"`
}

// ValuationConfig tunes the price aggregation window and outlier handling.
type ValuationConfig struct {
	StalenessMonths   int     `yaml:"staleness_months" mapstructure:"staleness_months"`
	OutlierMultiplier float64 `yaml:"outlier_multiplier" mapstructure:"outlier_multiplier"`
	ConfidenceDivisor int     `yaml:"confidence_divisor" mapstructure:"confidence_divisor"`
}

// AnomalyConfig tunes the fraud detection thresholds.
type AnomalyConfig struct {
	ImplausibleDrop float64 `yaml:"implausible_drop" mapstructure:"implausible_drop"`
	ScopeTolerance  float64 `yaml:"scope_tolerance" mapstructure:"scope_tolerance"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	QuarantinePath string `yaml:"quarantine_path" mapstructure:"quarantine_path"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// WatchConfig configures the scheduled processing loop.
type WatchConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
	Input    string `yaml:"input" mapstructure:"input"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SYMBIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	// Every key needs a default so env-only values survive Unmarshal.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "symbio.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("resolver.material_threshold", 0.80)
	v.SetDefault("resolver.company_threshold", 0.85)
	v.SetDefault("valuation.staleness_months", 12)
	v.SetDefault("valuation.outlier_multiplier", 3.0)
	v.SetDefault("valuation.confidence_divisor", 5)
	v.SetDefault("anomaly.implausible_drop", 0.60)
	v.SetDefault("anomaly.scope_tolerance", 0.10)
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("batch.quarantine_path", "quarantine.ndjson")
	v.SetDefault("server.port", 8080)
	v.SetDefault("watch.schedule", "0 */6 * * *")
	v.SetDefault("watch.input", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
