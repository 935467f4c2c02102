// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/mingdom/omninmo-sub001/internal/pricing"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Server  ServerConfig
	Data    DataConfig
	Model   ModelConfig
	Skew    SkewConfig
	Workers WorkerConfig
}

type ServerConfig struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type DataConfig struct {
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	RedisTTL       time.Duration `envconfig:"REDIS_TTL" default:"30s"`
	BreakerFailure uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerTimeout time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
}

// ModelConfig holds the pricing and classification inputs.
type ModelConfig struct {
	RiskFreeRate      float64 `envconfig:"RISK_FREE_RATE" default:"0.04"`
	BaseVolatility    float64 `envconfig:"BASE_VOLATILITY" default:"0.30"`
	CashLikeThreshold float64 `envconfig:"CASH_LIKE_THRESHOLD" default:"0.10"`
	FloorRate         float64 `envconfig:"FALLBACK_FLOOR_RATE" default:"0.001"` // time-value floor, fraction of S
	DeltaBand         float64 `envconfig:"FALLBACK_DELTA_BAND" default:"0.05"`
}

type SkewConfig struct {
	Flat          bool    `envconfig:"SKEW_FLAT" default:"false"`
	DownWing      float64 `envconfig:"SKEW_DOWN_WING" default:"1.2"`
	UpWing        float64 `envconfig:"SKEW_UP_WING" default:"0.6"`
	MaxMultiplier float64 `envconfig:"SKEW_MAX_MULTIPLIER" default:"3"`
}

type WorkerConfig struct {
	Simulation int `envconfig:"SIM_WORKERS" default:"0"` // 0 = one per CPU
}

// Load reads configuration from environment variables.
// It first tries to load a .env file (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	m := c.Model
	switch {
	case !finite(m.RiskFreeRate):
		return fmt.Errorf("%w: RISK_FREE_RATE %g", ErrInvalid, m.RiskFreeRate)
	case !(m.BaseVolatility > 0) || !finite(m.BaseVolatility):
		return fmt.Errorf("%w: BASE_VOLATILITY must be positive, got %g", ErrInvalid, m.BaseVolatility)
	case !(m.CashLikeThreshold >= 0) || !finite(m.CashLikeThreshold):
		return fmt.Errorf("%w: CASH_LIKE_THRESHOLD must be non-negative, got %g", ErrInvalid, m.CashLikeThreshold)
	case !(m.FloorRate >= 0) || !finite(m.FloorRate):
		return fmt.Errorf("%w: FALLBACK_FLOOR_RATE must be non-negative, got %g", ErrInvalid, m.FloorRate)
	case !(m.DeltaBand >= 0) || !finite(m.DeltaBand):
		return fmt.Errorf("%w: FALLBACK_DELTA_BAND must be non-negative, got %g", ErrInvalid, m.DeltaBand)
	}

	s := c.Skew
	switch {
	case !(s.DownWing >= 0) || !(s.UpWing >= 0) || !finite(s.DownWing) || !finite(s.UpWing):
		return fmt.Errorf("%w: skew wings must be non-negative, got down=%g up=%g", ErrInvalid, s.DownWing, s.UpWing)
	case !finite(s.MaxMultiplier):
		return fmt.Errorf("%w: SKEW_MAX_MULTIPLIER %g", ErrInvalid, s.MaxMultiplier)
	}

	if c.Workers.Simulation < 0 {
		return fmt.Errorf("%w: SIM_WORKERS must be >= 0, got %d", ErrInvalid, c.Workers.Simulation)
	}
	if c.Data.RedisURL != "" && c.Data.DatabaseURL == "" {
		return fmt.Errorf("%w: REDIS_URL requires DATABASE_URL", ErrInvalid)
	}
	if _, err := parseLevel(c.Server.LogLevel); err != nil {
		return err
	}
	return nil
}

// SkewModel returns the configured volatility-skew estimator.
func (c *Config) SkewModel() pricing.Skew {
	if c.Skew.Flat {
		return pricing.FlatSkew{}
	}
	w := pricing.DefaultSkew()
	w.DownWing = c.Skew.DownWing
	w.UpWing = c.Skew.UpWing
	w.MaxMultiplier = c.Skew.MaxMultiplier
	return w
}

// Kernel builds the pricing kernel from the skew and fallback settings.
func (c *Config) Kernel() *pricing.Kernel {
	return pricing.NewKernel(
		pricing.WithSkew(c.SkewModel()),
		pricing.WithFallback(pricing.FallbackPolicy{
			FloorRate: c.Model.FloorRate,
			DeltaBand: c.Model.DeltaBand,
		}),
	)
}

// Level returns LOG_LEVEL as a slog level.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.Server.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, s)
	}
	return l, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
