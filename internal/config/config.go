package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/conviction-cli/internal/conviction"
)

// Validation modes accepted by Config.Validate. Every mode but ModeEngine
// also checks the ledger settings.
const (
	ModeEngine = "engine"
	ModeLedger = "ledger"
	ModeServe  = "serve"
	ModeWatch  = "watch"
)

// Ledger drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNATS     = "nats"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Decay     DecayConfig     `yaml:"decay" mapstructure:"decay"`
	Threshold ThresholdConfig `yaml:"threshold" mapstructure:"threshold"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

// DecayConfig holds the per-tick retention factor and history stride.
type DecayConfig struct {
	Alpha    float64 `yaml:"alpha" mapstructure:"alpha"`
	TimeUnit int64   `yaml:"time_unit" mapstructure:"time_unit"`
}

// ThresholdConfig holds the economic parameters of the passing threshold.
type ThresholdConfig struct {
	Beta float64 `yaml:"beta" mapstructure:"beta"` // max share of funds a single request may take
	Rho  float64 `yaml:"rho" mapstructure:"rho"`   // weight
}

// LedgerConfig selects and configures the stake ledger source.
type LedgerConfig struct {
	Driver            string      `yaml:"driver" mapstructure:"driver"`
	Path              string      `yaml:"path" mapstructure:"path"`
	DatabaseURL       string      `yaml:"database_url" mapstructure:"database_url"`
	NATSURL           string      `yaml:"nats_url" mapstructure:"nats_url"`
	NATSSubjectPrefix string      `yaml:"nats_subject_prefix" mapstructure:"nats_subject_prefix"`
	Pool              PoolConfig  `yaml:"pool" mapstructure:"pool"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
	Funds             float64     `yaml:"funds" mapstructure:"funds"`
	Supply            float64     `yaml:"supply" mapstructure:"supply"`
}

// PoolConfig sizes the Postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// RetryConfig controls retries of transient ledger read failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Burst       int      `yaml:"burst" mapstructure:"burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// WatchConfig configures the proposal watcher.
type WatchConfig struct {
	IntervalSecs     int    `yaml:"interval_secs" mapstructure:"interval_secs"`
	WebhookURL       string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
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
	v.SetEnvPrefix("CONVICTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("decay.alpha", 0.9999799)
	v.SetDefault("decay.time_unit", 5)
	v.SetDefault("threshold.beta", 0.2)
	v.SetDefault("threshold.rho", 0.002)
	v.SetDefault("ledger.driver", DriverFile)
	v.SetDefault("ledger.path", "ledger.yaml")
	v.SetDefault("ledger.database_url", "")
	v.SetDefault("ledger.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("ledger.nats_subject_prefix", "conviction")
	v.SetDefault("ledger.pool.max_conns", 10)
	v.SetDefault("ledger.pool.min_conns", 2)
	v.SetDefault("ledger.retry.max_attempts", 3)
	v.SetDefault("ledger.retry.initial_backoff_ms", 100)
	v.SetDefault("ledger.retry.max_backoff_ms", 2000)
	v.SetDefault("ledger.funds", 0)
	v.SetDefault("ledger.supply", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("watch.interval_secs", 60)
	v.SetDefault("watch.webhook_url", "")
	v.SetDefault("watch.concurrency", 4)
	v.SetDefault("watch.failure_threshold", 5)
	v.SetDefault("watch.reset_timeout_secs", 30)

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

// Validate checks the settings a command needs. mode is one of ModeEngine,
// ModeLedger, ModeServe or ModeWatch; every problem found is reported.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeEngine, ModeLedger, ModeServe, ModeWatch:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Decay.Alpha <= 0 || c.Decay.Alpha >= 1 {
		add("decay.alpha must be in (0,1), got %v", c.Decay.Alpha)
	}
	if c.Decay.TimeUnit <= 0 || c.Decay.TimeUnit > conviction.MaxTimeUnit {
		add("decay.time_unit must be in [1,%d], got %d", conviction.MaxTimeUnit, c.Decay.TimeUnit)
	}
	if c.Threshold.Beta <= 0 || c.Threshold.Beta >= 1 {
		add("threshold.beta must be in (0,1), got %v", c.Threshold.Beta)
	}
	if c.Threshold.Rho <= 0 {
		add("threshold.rho must be positive, got %v", c.Threshold.Rho)
	}

	if mode != ModeEngine {
		c.validateLedger(add)
	}

	switch mode {
	case ModeServe:
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		} else if c.Server.Port > 65535 {
			add("server.port must be <= 65535")
		}
		if c.Server.RateLimit <= 0 {
			add("server.rate_limit must be positive")
		}
		if c.Server.Burst <= 0 {
			add("server.burst must be positive")
		}
	case ModeWatch:
		if c.Watch.IntervalSecs <= 0 {
			add("watch.interval_secs must be positive")
		}
		if c.Watch.Concurrency <= 0 {
			add("watch.concurrency must be positive")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateLedger(add func(string, ...any)) {
	l := c.Ledger
	switch l.Driver {
	case DriverFile, DriverSQLite:
		if l.Path == "" {
			add("ledger.path is required for driver %s", l.Driver)
		}
	case DriverPostgres:
		if l.DatabaseURL == "" {
			add("ledger.database_url is required for driver postgres")
		}
	case DriverNATS:
		if l.NATSURL == "" {
			add("ledger.nats_url is required for driver nats")
		}
		if l.NATSSubjectPrefix == "" {
			add("ledger.nats_subject_prefix is required for driver nats")
		}
	default:
		add("ledger.driver %q is not one of file, postgres, sqlite, nats", l.Driver)
	}
	if l.Funds < 0 {
		add("ledger.funds must not be negative")
	}
	if l.Supply < 0 {
		add("ledger.supply must not be negative")
	}
	if l.Pool.MinConns > l.Pool.MaxConns {
		add("ledger.pool.min_conns exceeds max_conns")
	}
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
