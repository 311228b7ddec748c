package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from multiple sources in priority order:
// 1. Default values
// 2. Configuration file (oracled.toml)
// 3. Environment variables (ORACLED_ prefix, e.g. ORACLED_LEDGER_URL)
//
// An empty path falls back to DefaultConfigFile when it exists and to the
// defaults alone otherwise. An explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Defaults
	setDefaults(v)

	// 2. Configuration file
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if resolved != "" {
		v.SetConfigFile(resolved)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", resolved, err)
		}
	}

	// 3. Environment
	v.SetEnvPrefix("ORACLED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.configPath = resolved

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Default returns the configuration obtained from defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// Defaults always decode.
	_ = v.Unmarshal(&config)
	return &config
}

func resolvePath(path string) (string, error) {
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			return DefaultConfigFile, nil
		}
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file does not exist: %s", path)
		}
		return "", fmt.Errorf("cannot access config file %s: %w", path, err)
	}
	return path, nil
}
