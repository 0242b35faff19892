// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config carries every tunable the server reads from the environment. The
// defaults are the production values; tests construct their own.
type Config struct {
	Host     string `env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port     string `env:"SERVER_PORT" env-default:"8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	// RedisAddr switches the session store from in-memory to Redis when
	// set. DatabaseURL switches profile storage to Postgres when set.
	RedisAddr   string `env:"REDIS_ADDR" env-default:""`
	DatabaseURL string `env:"DATABASE_URL" env-default:""`

	// Game timing.
	ClockSeconds    int           `env:"GAME_CLOCK_SECONDS" env-default:"600"`
	RevealDelay     time.Duration `env:"REVEAL_DELAY" env-default:"1s"`
	Heartbeat       time.Duration `env:"PRESENCE_HEARTBEAT" env-default:"5s"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" env-default:"30s"`
	AbandonAfter    time.Duration `env:"ABANDON_AFTER" env-default:"60s"`
	ResumeWindow    time.Duration `env:"RESUME_WINDOW" env-default:"1h"`

	// Matchmaking.
	RatingBand   float64       `env:"MATCH_RATING_BAND" env-default:"200"`
	DequeueGrace time.Duration `env:"MATCH_DEQUEUE_GRACE" env-default:"5s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
