package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func validateConfig(config *Config) error {
	validLockerTypes := map[string]bool{
		"dotlock": true, "kernel": true, "external": true, "null": true,
	}
	if !validLockerTypes[config.Locker.Type] {
		return fmt.Errorf("invalid locker type: %s", config.Locker.Type)
	}

	if config.Locker.Type == "external" && config.Locker.ExternalHelper == "" {
		return fmt.Errorf("locker external_helper cannot be empty when type is external")
	}

	if config.Locker.RetryCount < 0 {
		return fmt.Errorf("locker retry_count cannot be negative: %d", config.Locker.RetryCount)
	}

	if config.Maildir.BasePath == "" {
		return fmt.Errorf("maildir base_path cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}
