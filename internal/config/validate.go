package config

import (
	"fmt"
	"os"
)

// Validate checks the configuration for invalid values. Clamp has
// already fixed out-of-range numerics; this catches what clamping
// cannot: bad enum values and, in CI, missing inputs.
func Validate(cfg *Config) error {
	switch cfg.Env {
	case EnvLocal, EnvCI, EnvColab:
	default:
		return fmt.Errorf("env must be local/ci/colab, got %q", cfg.Env)
	}

	switch cfg.Stealth.Mode {
	case "minimal", "moderate", "aggressive":
	default:
		return fmt.Errorf("stealth.mode must be minimal/moderate/aggressive, got %q", cfg.Stealth.Mode)
	}

	if cfg.Stealth.NetworkProfile != "" {
		switch cfg.Stealth.NetworkProfile {
		case "slow_3g", "fast_3g", "4g", "wifi", "dsl":
		default:
			return fmt.Errorf("stealth.network_profile %q is not a known profile", cfg.Stealth.NetworkProfile)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.IsCI() {
		if _, err := os.Stat(cfg.URLsPath()); err != nil {
			return fmt.Errorf("ci env requires input URL file at %s: %w", cfg.URLsPath(), err)
		}
		if cfg.Proxy.ConfigPath != "" {
			if _, err := os.Stat(cfg.Proxy.ConfigPath); err != nil {
				return fmt.Errorf("ci env requires readable proxy config: %w", err)
			}
		}
	}

	return nil
}
