package account

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/congo-pay/tangle_account/internal/seed"
	"github.com/congo-pay/tangle_account/internal/timesrc"
)

const (
	DefaultDepth              = 3
	DefaultMinWeightMagnitude = 9
	DefaultDelay              = 30 * time.Second
	DefaultMaxDepth           = 6
	DefaultCallTimeout        = 10 * time.Second
	DefaultConcurrency        = 4
)

// Settings is the account configuration. It is captured by New and never
// modified afterwards.
type Settings struct {
	Seed     string
	Provider string
	// Depth is how far back in the tangle tip selection starts.
	Depth              int
	MinWeightMagnitude int
	// Delay is the interval between reattachment rounds and the minimum time
	// between two attempts for the same transaction.
	Delay time.Duration
	// MaxDepth is the depth beyond which a tip is no longer promotable.
	MaxDepth   int
	TimeSource timesrc.Source

	// CallTimeout bounds each ledger and time source call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration
	// Concurrency bounds the transactions processed in parallel within a tick.
	// Zero means DefaultConcurrency.
	Concurrency int
}

// ConfigError reports an invalid setting; no account is created.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid account configuration: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// validate checks the invariants and returns the parsed seed and a copy of
// the settings with defaults applied.
func (s Settings) validate() (seed.Seed, Settings, error) {
	sd, err := seed.Parse(s.Seed)
	if err != nil {
		return seed.Seed{}, Settings{}, configErr("seed", "%v", err)
	}
	if s.Provider == "" {
		return seed.Seed{}, Settings{}, configErr("provider", "is required")
	}
	if u, err := url.Parse(s.Provider); err != nil || u.Scheme == "" {
		return seed.Seed{}, Settings{}, configErr("provider", "must be an absolute url")
	}
	if s.Depth < 1 {
		return seed.Seed{}, Settings{}, configErr("depth", "must be >= 1, got %d", s.Depth)
	}
	if s.MinWeightMagnitude < 0 {
		return seed.Seed{}, Settings{}, configErr("minWeightMagnitude", "must be >= 0, got %d", s.MinWeightMagnitude)
	}
	if s.Delay <= 0 {
		return seed.Seed{}, Settings{}, configErr("delay", "must be > 0, got %s", s.Delay)
	}
	if s.MaxDepth < 1 {
		return seed.Seed{}, Settings{}, configErr("maxDepth", "must be >= 1, got %d", s.MaxDepth)
	}
	if s.TimeSource == nil {
		return seed.Seed{}, Settings{}, configErr("timeSource", "is required")
	}
	if s.CallTimeout < 0 {
		return seed.Seed{}, Settings{}, configErr("callTimeout", "must not be negative")
	}
	if s.Concurrency < 0 {
		return seed.Seed{}, Settings{}, configErr("concurrency", "must not be negative")
	}

	if s.CallTimeout == 0 {
		s.CallTimeout = DefaultCallTimeout
	}
	if s.Concurrency == 0 {
		s.Concurrency = DefaultConcurrency
	}
	s.Seed = ""
	return sd, s, nil
}

// LogValue omits the seed.
func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", s.Provider),
		slog.Int("depth", s.Depth),
		slog.Int("min_weight_magnitude", s.MinWeightMagnitude),
		slog.Duration("delay", s.Delay),
		slog.Int("max_depth", s.MaxDepth),
		slog.Duration("call_timeout", s.CallTimeout),
		slog.Int("concurrency", s.Concurrency),
	)
}
