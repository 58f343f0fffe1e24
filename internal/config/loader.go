package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Environment variable names. These are the engine's public contract;
// renaming one is a breaking change for every deployment script.
const (
	envEnv                = "ENV"
	envDataDir            = "DATA_DIR"
	envHTTPTimeoutSeconds = "HTTPX_TIMEOUT_SECONDS"
	envHTTPConcurrency    = "HTTPX_MAX_CONCURRENCY"
	envBrowserHeadless    = "BROWSER_HEADLESS"
	envBrowserConcurrency = "BROWSER_MAX_CONCURRENCY"
	envShardSize          = "SHARD_SIZE"
	envProxyConfigPath    = "PROXY_CONFIG_PATH"
)

// Load reads configuration from an optional YAML file and the
// environment, then clamps numeric values into their safe ranges.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	Clamp(cfg)
	return cfg, nil
}

// Clamp forces numeric settings into their safe ranges. Values outside
// the range are pulled to the nearer bound, not rejected: a mistyped
// concurrency should degrade, not kill the run.
func Clamp(cfg *Config) {
	cfg.HTTP.TimeoutSeconds = clampInt(cfg.HTTP.TimeoutSeconds, 5, 30)
	cfg.HTTP.MaxConcurrency = clampInt(cfg.HTTP.MaxConcurrency, 8, 64)
	cfg.Browser.MaxConcurrency = clampInt(cfg.Browser.MaxConcurrency, 1, 4)
	cfg.Browser.NavTimeoutSecs = clampInt(cfg.Browser.NavTimeoutSecs, 10, 45)
	cfg.Shard.Size = clampInt(cfg.Shard.Size, 50, 5000)
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.Browser.RecycleContexts <= 0 {
		cfg.Browser.RecycleContexts = 50
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bindEnv wires the documented environment variables onto config keys.
// The names predate this module and do not follow a prefix scheme, so
// each is bound explicitly instead of using AutomaticEnv.
func bindEnv(v *viper.Viper) {
	v.BindEnv("env", envEnv)
	v.BindEnv("data_dir", envDataDir)
	v.BindEnv("http.timeout_seconds", envHTTPTimeoutSeconds)
	v.BindEnv("http.max_concurrency", envHTTPConcurrency)
	v.BindEnv("browser.headless", envBrowserHeadless)
	v.BindEnv("browser.max_concurrency", envBrowserConcurrency)
	v.BindEnv("shard.size", envShardSize)
	v.BindEnv("proxy.config_path", envProxyConfigPath)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("env", cfg.Env)
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("http.timeout_seconds", cfg.HTTP.TimeoutSeconds)
	v.SetDefault("http.max_concurrency", cfg.HTTP.MaxConcurrency)
	v.SetDefault("http.max_body_bytes", cfg.HTTP.MaxBodyBytes)
	v.SetDefault("http.max_redirects", cfg.HTTP.MaxRedirects)
	v.SetDefault("http.max_retries", cfg.HTTP.MaxRetries)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.max_concurrency", cfg.Browser.MaxConcurrency)
	v.SetDefault("browser.nav_timeout_secs", cfg.Browser.NavTimeoutSecs)
	v.SetDefault("browser.recycle_contexts", cfg.Browser.RecycleContexts)
	v.SetDefault("browser.block_styles", cfg.Browser.BlockStyles)

	v.SetDefault("shard.size", cfg.Shard.Size)
	v.SetDefault("proxy.config_path", cfg.Proxy.ConfigPath)

	v.SetDefault("stealth.mode", cfg.Stealth.Mode)
	v.SetDefault("stealth.session_id", cfg.Stealth.SessionID)
	v.SetDefault("stealth.network_profile", cfg.Stealth.NetworkProfile)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
