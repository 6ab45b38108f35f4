package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultAppName          = "TangleAccount"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultDepth            = 3
	defaultMinWeight        = 9
	defaultReattachDelay    = 30 * time.Second
	defaultMaxDepth         = 6
	defaultNTPServer        = "time.google.com"
	defaultCallTimeout      = 10 * time.Second
	defaultTickConcurrency  = 4
	defaultDepositThreshold = 30 * time.Minute
	defaultStateStore       = StoreFile
	defaultStateDir         = "./state"
	defaultSnapshotInterval = time.Minute
	defaultLeaseTTL         = 90 * time.Second
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	configFileEnvVar        = "CONFIG_FILE"
)

// State store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// NTPDisabled as NTP_SERVER selects the system clock.
const NTPDisabled = "none"

// Config captures application runtime configuration. Values come from the
// environment, falling back to the file named by CONFIG_FILE and then to
// defaults.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	AccountSeed        string
	ProviderURL        string
	Depth              int
	MinWeightMagnitude int
	ReattachDelay      time.Duration
	MaxDepth           int
	NTPServer          string
	CallTimeout        time.Duration
	TickConcurrency    int
	// DepositThreshold is the minimum remaining lifetime of a CDA the
	// account agrees to pay.
	DepositThreshold time.Duration

	StateStore       string
	StateDir         string
	StatePassphrase  string
	SnapshotInterval time.Duration

	DatabaseURL    string
	RedisURL       string
	LeaseTTL       time.Duration
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	AdminTokenHash string
}

// source resolves a key from the environment first and the config file second.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[strings.ToLower(key)]
}

func (s source) getDefault(key, fallback string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return fallback
}

func (s source) getInt(key string, fallback int) (int, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func (s source) getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getUnitOrDuration reads an integer count of unit from unitKey, or a Go
// duration string from durKey when unitKey is unset.
func (s source) getUnitOrDuration(unitKey string, unit time.Duration, durKey string, fallback time.Duration) (time.Duration, error) {
	if v := s.get(unitKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", unitKey, err)
		}
		return time.Duration(n) * unit, nil
	}
	return s.getDuration(durKey, fallback)
}

// Load reads configuration values from the environment and, when CONFIG_FILE
// is set, from a TOML or YAML file whose keys are the lower-cased variable
// names (for example reattach_delay = "30s").
func Load() (Config, error) {
	src := source{}
	if path := os.Getenv(configFileEnvVar); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		AppName:         src.getDefault("APP_NAME", defaultAppName),
		AppEnv:          src.getDefault("APP_ENV", defaultAppEnv),
		Port:            src.getDefault("PORT", defaultPort),
		LogLevel:        strings.ToLower(src.getDefault("LOG_LEVEL", defaultLogLevel)),
		AccountSeed:     src.get("ACCOUNT_SEED"),
		ProviderURL:     src.get("PROVIDER_URL"),
		NTPServer:       src.getDefault("NTP_SERVER", defaultNTPServer),
		StateStore:      strings.ToLower(src.getDefault("STATE_STORE", defaultStateStore)),
		StateDir:        src.getDefault("STATE_DIR", defaultStateDir),
		StatePassphrase: src.get("STATE_PASSPHRASE"),
		DatabaseURL:     src.get("DATABASE_URL"),
		RedisURL:        src.get("REDIS_URL"),
		AdminTokenHash:  src.get("ADMIN_TOKEN_HASH"),
	}

	var err error
	if cfg.Depth, err = src.getInt("TIP_DEPTH", defaultDepth); err != nil {
		return Config{}, err
	}
	if cfg.MinWeightMagnitude, err = src.getInt("MIN_WEIGHT_MAGNITUDE", defaultMinWeight); err != nil {
		return Config{}, err
	}
	if cfg.MaxDepth, err = src.getInt("MAX_DEPTH", defaultMaxDepth); err != nil {
		return Config{}, err
	}
	if cfg.TickConcurrency, err = src.getInt("TICK_CONCURRENCY", defaultTickConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.ReattachDelay, err = src.getUnitOrDuration("REATTACH_DELAY_MS", time.Millisecond, "REATTACH_DELAY", defaultReattachDelay); err != nil {
		return Config{}, err
	}
	if cfg.CallTimeout, err = src.getDuration("CALL_TIMEOUT", defaultCallTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DepositThreshold, err = src.getDuration("DEPOSIT_SEND_THRESHOLD", defaultDepositThreshold); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotInterval, err = src.getDuration("SNAPSHOT_INTERVAL", defaultSnapshotInterval); err != nil {
		return Config{}, err
	}
	if cfg.LeaseTTL, err = src.getDuration("LEASE_TTL", defaultLeaseTTL); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = src.getUnitOrDuration("SHUTDOWN_TIMEOUT_SECONDS", time.Second, "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = src.getUnitOrDuration("IDEMPOTENCY_TTL_SECONDS", time.Second, "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AccountSeed == "" {
		return errors.New("ACCOUNT_SEED must be set")
	}
	if c.ProviderURL == "" {
		return errors.New("PROVIDER_URL must be set")
	}
	switch c.StateStore {
	case StoreFile, StoreSQLite:
		if c.StateDir == "" {
			return errors.New("STATE_DIR must be set")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when STATE_STORE=postgres")
		}
	default:
		return fmt.Errorf("invalid STATE_STORE %q", c.StateStore)
	}
	if c.DepositThreshold < 0 {
		return errors.New("DEPOSIT_SEND_THRESHOLD must not be negative")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("SNAPSHOT_INTERVAL must be positive")
	}
	if c.LeaseTTL <= c.ReattachDelay {
		return fmt.Errorf("LEASE_TTL (%s) must exceed the reattach delay (%s)", c.LeaseTTL, c.ReattachDelay)
	}
	// One attempt makes up to three ledger calls between lease renewals.
	if c.LeaseTTL <= 3*c.CallTimeout {
		return fmt.Errorf("LEASE_TTL (%s) must exceed three call timeouts (%s)", c.LeaseTTL, 3*c.CallTimeout)
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// UseNTP reports whether a network time server is configured.
func (c Config) UseNTP() bool {
	return c.NTPServer != "" && !strings.EqualFold(c.NTPServer, NTPDisabled)
}

// SQLitePath is where the sqlite backend keeps its database.
func (c Config) SQLitePath() string {
	return filepath.Join(c.StateDir, "state.db")
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file %q: use .toml, .yaml or .yml", path)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config key %q: nested values are not supported", k)
		}
		out[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return out, nil
}
