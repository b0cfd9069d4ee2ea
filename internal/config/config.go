// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const minJWTSecretLen = 32

type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	DatabaseDSN     string        `envconfig:"DB_DSN" required:"true"`
	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"` // empty disables the cross-instance bridge
	MaxMessageBytes int           `envconfig:"MAX_MESSAGE_BYTES" default:"2000"`
	SendQueueSize   int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLen)
	}
	if cfg.MaxMessageBytes <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_BYTES must be positive")
	}
	return &cfg, nil
}
