/*
Package config loads server configuration from the environment.

PURPOSE:
  Centralizes runtime configuration with environment variables and sane
  defaults, so deployments configure the server without flags or files.

VARIABLES:
  HTTP_PORT         HTTP server port (default 8080)
  DB_PATH           SQLite database path (default payroll.db, ":memory:" works)
  READ_TIMEOUT      HTTP read timeout (default 15s)
  WRITE_TIMEOUT     HTTP write timeout (default 15s)
  SHUTDOWN_TIMEOUT  Graceful shutdown grace period (default 30s)

USAGE:
  cfg := config.MustLoad()
  store, err := sqlite.New(cfg.DBPath)

SEE ALSO:
  - cmd/server/main.go: The only consumer
*/
package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	HTTPPort        int           `env:"HTTP_PORT" env-default:"8080"`
	DBPath          string        `env:"DB_PATH" env-default:"payroll.db"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// MustLoad reads configuration from the environment and exits on failure.
func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("cannot read config: %v", err)
	}
	return &cfg
}
