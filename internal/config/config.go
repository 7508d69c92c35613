// Package config loads runtime configuration for the sentinel binary
// from flags, environment variables, an optional .env file, and an
// optional YAML file, in that priority order.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/btcintel/internal/sentinelerr"
)

// Config holds every tunable the orchestrator, market hunter, store, and
// market-data layers need at boot.
type Config struct {
	CycleInterval    time.Duration `mapstructure:"cycle_interval"`
	HunterInterval   time.Duration `mapstructure:"hunter_interval"`
	MaxSources       int           `mapstructure:"max_sources"`
	ExplorationRate  float64       `mapstructure:"exploration_rate"`
	LearningRate     float64       `mapstructure:"learning_rate"`
	MinConfidence    float64       `mapstructure:"min_confidence_threshold"`

	StoreDSN  string `mapstructure:"store_dsn"`
	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`

	NewsAPIKey        string `mapstructure:"news_api_key"`
	MarketAPIKey      string `mapstructure:"market_api_key"`
	DerivativesAPIKey string `mapstructure:"derivatives_api_key"`
}

// Defaults returns the spec-mandated defaults, used both by Load (as the
// viper default tree) and directly by callers that construct a Config
// without going through Load (e.g. in-process tests).
func Defaults() Config {
	return Config{
		CycleInterval:   10 * time.Minute,
		HunterInterval:  10 * time.Minute,
		MaxSources:      5,
		ExplorationRate: 0.2,
		LearningRate:    0.1,
		MinConfidence:   0.6,
		LogLevel:        "info",
	}
}

// Load reads configuration from (in ascending priority) defaults, an
// optional YAML file at configPath, a .env file in the working
// directory, and SENTINEL_-prefixed environment variables, then applies
// the CLI flag overrides in overrides: only the fields whose key is set
// to true in overrideSet are applied, the rest are ignored.
func Load(configPath string, overrides Config, overrideSet map[string]bool) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("cycle_interval", d.CycleInterval)
	v.SetDefault("hunter_interval", d.HunterInterval)
	v.SetDefault("max_sources", d.MaxSources)
	v.SetDefault("exploration_rate", d.ExplorationRate)
	v.SetDefault("learning_rate", d.LearningRate)
	v.SetDefault("min_confidence_threshold", d.MinConfidence)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("store_dsn", "")
	v.SetDefault("log_file", "")
	v.SetDefault("news_api_key", "")
	v.SetDefault("market_api_key", "")
	v.SetDefault("derivatives_api_key", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, sentinelerr.NewConfigError("config_file", err)
		}
	}

	// spec.md's env vars don't carry the SENTINEL_ prefix; bind them
	// explicitly alongside the prefixed form AutomaticEnv already covers.
	bindEnv(v, "store_dsn", "STORE_DSN")
	bindEnv(v, "news_api_key", "NEWS_API_KEY")
	bindEnv(v, "market_api_key", "MARKET_API_KEY")
	bindEnv(v, "derivatives_api_key", "DERIVATIVES_API_KEY")
	bindEnv(v, "log_level", "LOG_LEVEL")
	bindEnvDuration(v, "cycle_interval_seconds", "CYCLE_INTERVAL_SECONDS")
	bindEnvDuration(v, "hunter_interval_seconds", "HUNTER_INTERVAL_SECONDS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sentinelerr.NewConfigError("unmarshal", err)
	}

	if s := v.GetInt("cycle_interval_seconds"); s > 0 {
		cfg.CycleInterval = time.Duration(s) * time.Second
	}
	if s := v.GetInt("hunter_interval_seconds"); s > 0 {
		cfg.HunterInterval = time.Duration(s) * time.Second
	}

	applyOverrides(&cfg, overrides, overrideSet)

	if err := cfg.Validate(); err != nil {
		return nil, sentinelerr.NewConfigError("validate", err)
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}

func bindEnvDuration(v *viper.Viper, key, env string) {
	v.SetDefault(key, 0)
	_ = v.BindEnv(key, env)
}

func applyOverrides(cfg *Config, o Config, set map[string]bool) {
	if set == nil {
		return
	}
	if set["cycle_interval"] {
		cfg.CycleInterval = o.CycleInterval
	}
	if set["hunter_interval"] {
		cfg.HunterInterval = o.HunterInterval
	}
	if set["max_sources"] {
		cfg.MaxSources = o.MaxSources
	}
	if set["exploration_rate"] {
		cfg.ExplorationRate = o.ExplorationRate
	}
	if set["store_dsn"] {
		cfg.StoreDSN = o.StoreDSN
	}
	if set["log_file"] {
		cfg.LogFile = o.LogFile
	}
}

// Validate checks the config is internally consistent, returning a plain
// error (the caller wraps it as ConfigError).
func (c Config) Validate() error {
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive, got %s", c.CycleInterval)
	}
	if c.HunterInterval <= 0 {
		return fmt.Errorf("hunter_interval must be positive, got %s", c.HunterInterval)
	}
	if c.MaxSources <= 0 {
		return fmt.Errorf("max_sources must be positive, got %d", c.MaxSources)
	}
	if c.ExplorationRate < 0 || c.ExplorationRate > 1 {
		return fmt.Errorf("exploration_rate must be in [0,1], got %f", c.ExplorationRate)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence_threshold must be in [0,1], got %f", c.MinConfidence)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}
