package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable read by FromEnv.
const EnvPrefix = "POLYFLOW_"

// ParseEnv loads target from environment variables using its env tags.
func ParseEnv(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FromEnv builds a Config from POLYFLOW_* variables and validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := ParseEnv(cfg, EnvPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
