// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/whisper/chatroom/internal/chat"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds every setting of cmd/chatserver.
type Config struct {
	ListenAddr      string        `env:"LISTEN_ADDR"      envDefault:":5000"  validate:"required"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"     envDefault:"10s"    validate:"gt=0"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"    envDefault:"10s"    validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"    validate:"gt=0"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"     envDefault:"*"      envSeparator:","`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"badger" validate:"oneof=badger postgres redis"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"     validate:"gt=0"`
	DatabaseURL  string        `env:"DATABASE_URL"                      validate:"required_if=StoreBackend postgres"`
	RedisAddr    string        `env:"REDIS_ADDR"    envDefault:"localhost:6379" validate:"required_if=StoreBackend redis"`
	RedisDB      int           `env:"REDIS_DB"      envDefault:"0"      validate:"gte=0"`
	BadgerPath   string        `env:"BADGER_PATH"   envDefault:"data/chatroom" validate:"required_if=StoreBackend badger"`

	// NATSURL enables event publishing when set.
	NATSURL string `env:"NATS_URL"`

	NamePolicy         chat.NamePolicy `env:"NAME_POLICY"         envDefault:"alphanum"`
	ReaperInterval     time.Duration   `env:"REAPER_INTERVAL"     envDefault:"1s"       validate:"gt=0"`
	ParticipantTimeout time.Duration   `env:"PARTICIPANT_TIMEOUT" envDefault:"10s"      validate:"gt=0"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env if present, then the process environment, and validates
// the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if _, err := chat.ParseNamePolicy(string(cfg.NamePolicy)); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
