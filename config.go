package jobkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/jobkit/pkg/config"
	"github.com/dmitrymomot/jobkit/pkg/environment"
	"github.com/dmitrymomot/jobkit/pkg/httpserver"
	"github.com/dmitrymomot/jobkit/pkg/pg"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/redis"
)

// EngineKind selects the queue engine
type EngineKind string

const (
	EngineMemory   EngineKind = "memory"
	EnginePostgres EngineKind = "postgres"
	EngineRedis    EngineKind = "redis"
)

// UnmarshalText lets env loaders decode JOBKIT_ENGINE straight into an EngineKind
func (k *EngineKind) UnmarshalText(text []byte) error {
	switch kind := EngineKind(strings.ToLower(strings.TrimSpace(string(text)))); kind {
	case "":
		*k = EngineMemory
	case EngineMemory, EnginePostgres, EngineRedis:
		*k = kind
	default:
		return fmt.Errorf("%q: %w", text, ErrUnknownEngine)
	}
	return nil
}

// Config is the environment driven configuration of a job runtime.
// Postgres and Redis are only loaded when Engine selects them, see LoadConfig.
type Config struct {
	Engine    EngineKind              `env:"JOBKIT_ENGINE" envDefault:"memory"`
	LogFormat string                  `env:"JOBKIT_LOG_FORMAT"` // LogFormat overrides the environment preset: "json" or "text".
	LogLevel  string                  `env:"JOBKIT_LOG_LEVEL"`  // LogLevel overrides the environment preset.
	Env       environment.Environment `env:"APP_ENV" envDefault:"development"`
	AppName   string                  `env:"APP_NAME" envDefault:"jobkit"`

	Queue queue.Config
	HTTP  httpserver.Config

	// Connection settings are loaded only for the engine that needs them
	Postgres *pg.Config    `env:"-"`
	Redis    *redis.Config `env:"-"`
}

// LoadConfig reads Config from the environment, plus PG_* or REDIS_*
// settings when the selected engine needs them.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}

	switch cfg.Engine {
	case EnginePostgres:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return Config{}, errors.Join(ErrMissingEngineConfig, err)
		}
		cfg.Postgres = &pgCfg
	case EngineRedis:
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return Config{}, errors.Join(ErrMissingEngineConfig, err)
		}
		cfg.Redis = &redisCfg
	}

	return cfg, nil
}
