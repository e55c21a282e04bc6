package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig configures the HTTP job service.
type ServerConfig struct {
	Addr     string `env:"NLS_ADDR,default=localhost:8080" validate:"required"`
	DataDir  string `env:"NLS_DATA_DIR,default=./data" validate:"required"`
	MaxJobs  int    `env:"NLS_MAX_JOBS,default=2" validate:"gte=1"`
	LogLevel string `env:"NLS_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
}

// LoadServerConfig reads the environment, after loading envFile if it exists.
func LoadServerConfig(envFile string) (*ServerConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg ServerConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
