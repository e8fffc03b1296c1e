package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/prefkit/internal/backend"
	"github.com/kalambet/prefkit/internal/settings"
)

// Domain is where prefkit keeps its own configuration, separate from the
// user domain it manages.
const Domain = "com.kalambet.prefkit"

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StoreConfig struct {
	Backend  string
	Domain   string
	CacheTTL time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// SlogLevel parses Level, falling back to info.
func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Store: StoreConfig{
			Backend:  backend.DefaultName,
			Domain:   "com.kalambet.prefkit.user",
			CacheTTL: 2 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: backend.DefaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native store, environment
// variables, and the OS keychain.
//
// On macOS the store is UserDefaults (domain: com.kalambet.prefkit).
// Elsewhere it is a plist file at $XDG_CONFIG_HOME/prefkit/com.kalambet.prefkit.plist.
// The API token lives in the keychain under the same service name.
//
// Environment variables (PREFKIT_*) override stored values on all platforms.
func Load() (Config, error) {
	st, err := platformStore()
	if err != nil {
		return Config{}, err
	}
	return loadWith(st, backend.NewKeyring(Domain))
}

func platformStore() (settings.Store, error) {
	o, err := backend.Open(backend.DefaultName, backend.Options{Domain: Domain})
	if err != nil {
		return nil, fmt.Errorf("opening config store: %w", err)
	}
	return o.Store, nil
}

func loadWith(st, secrets settings.Store) (Config, error) {
	cfg := defaults()

	for _, s := range specs {
		if s.secret {
			s.load(&cfg, secrets)
		} else {
			s.load(&cfg, st)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d is out of range", c.Server.Port)
	}
	if !slices.Contains(backend.Names(), c.Store.Backend) {
		return fmt.Errorf("invalid config: store.backend %q (valid: %s)", c.Store.Backend, strings.Join(backend.Names(), ", "))
	}
	if c.Store.Domain == "" {
		return fmt.Errorf("invalid config: store.domain is empty")
	}
	if c.Store.CacheTTL < 0 {
		return fmt.Errorf("invalid config: store.cache_ttl %s is negative", c.Store.CacheTTL)
	}
	return nil
}
