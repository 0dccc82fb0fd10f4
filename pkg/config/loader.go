package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration. This is the single
// entry point used by all three binaries (cmd/gateway, cmd/memoryservice,
// cmd/recallworker).
//
// Steps:
//  1. Load a .env file if present (godotenv), for local development.
//  2. Start from DefaultConfig().
//  3. Read config.yaml from configDir, expand ${VAR} references, and merge
//     it onto the defaults with dario.cat/mergo (user values win).
//  4. Validate the merged result with go-playground/validator.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		var user Config
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("failed to merge config: %w", err))
		}
	case os.IsNotExist(err):
		log.Warn("config.yaml not found, using built-in defaults", "path", path)
	default:
		return nil, NewLoadError(path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized", "providers", cfg.Stats().Providers)
	return cfg, nil
}
