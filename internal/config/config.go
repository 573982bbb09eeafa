package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
)

type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// Snapshots are not persisted when empty.
	DatabaseURL string `env:"DATABASE_URL"`

	IdentityURL     string        `env:"IDENTITY_URL" envDefault:"http://localhost:8081"`
	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`

	MoveWindow       time.Duration `env:"MOVE_WINDOW" envDefault:"20s"`
	MaxParticipants  int           `env:"MAX_PARTICIPANTS" envDefault:"50"`
	MaxRoundsPerPair int           `env:"MAX_ROUNDS_PER_PAIR" envDefault:"5"`
	StartingHealth   int           `env:"STARTING_HEALTH" envDefault:"2500"`
	MaxPower         int           `env:"MAX_POWER" envDefault:"10000"`
	MinRange         int           `env:"MIN_RANGE" envDefault:"3000"`
	MaxRange         int           `env:"MAX_RANGE" envDefault:"7000"`
	DefenceBoost     int           `env:"DEFENCE_BOOST" envDefault:"4"`
	AutoAdvance      bool          `env:"AUTO_ADVANCE" envDefault:"true"`

	ReservationCapacity int           `env:"RESERVATION_CAPACITY" envDefault:"1024"`
	ReservationTTL      time.Duration `env:"RESERVATION_TTL" envDefault:"24h"`
}

// Load reads an optional .env file from the working directory and then
// parses the environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Rules(); err != nil {
		return Config{}, err
	}
	if cfg.ReservationCapacity <= 0 || cfg.ReservationTTL <= 0 {
		return Config{}, fmt.Errorf("parse env: reservation capacity and ttl must be positive")
	}
	return cfg, nil
}

// Rules are the battle rules every new battle starts with.
func (c Config) Rules() (engine.Rules, error) {
	r := engine.Rules{
		MaxPower:         c.MaxPower,
		MinRange:         c.MinRange,
		MaxRange:         c.MaxRange,
		DefenceBoost:     c.DefenceBoost,
		StartingHealth:   c.StartingHealth,
		MaxParticipants:  c.MaxParticipants,
		MaxRoundsPerPair: c.MaxRoundsPerPair,
		MoveWindow:       c.MoveWindow,
		AutoAdvance:      c.AutoAdvance,
	}
	if err := r.Validate(); err != nil {
		return engine.Rules{}, err
	}
	return r, nil
}
