package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kalambet/prefkit/internal/settings"
)

// configKey is a setting definition whose key is the dotted config name.
type configKey[T any] struct {
	key string
	def T
}

func (k configKey[T]) Key() string { return k.key }

func (k configKey[T]) Default() T { return k.def }

type keySpec struct {
	key    string
	env    string
	secret bool
	// load reads the typed setting from st into cfg.
	load func(cfg *Config, st settings.Store)
	// parse applies a textual value, as found in env vars, to cfg.
	parse func(cfg *Config, raw string) error
	// write parses raw and stores it as the setting's typed value.
	write   func(st settings.Store, raw string) error
	extract func(cfg Config) string
}

func newKey[T any](key, env string, def T, parse func(string) (T, error), apply func(*Config, T), extract func(Config) T) keySpec {
	s := settings.Declare[T](configKey[T]{key: key, def: def})
	return keySpec{
		key: key,
		env: env,
		load: func(cfg *Config, st settings.Store) {
			apply(cfg, s.Get(st))
		},
		parse: func(cfg *Config, raw string) error {
			v, err := parse(raw)
			if err != nil {
				return err
			}
			apply(cfg, v)
			return nil
		},
		write: func(st settings.Store, raw string) error {
			v, err := parse(raw)
			if err != nil {
				return err
			}
			s.Set(st, v)
			return nil
		},
		extract: func(cfg Config) string { return fmt.Sprint(extract(cfg)) },
	}
}

func parseString(raw string) (string, error) { return raw, nil }

var specs = newSpecs(defaults())

func newSpecs(d Config) []keySpec {
	token := newKey("server.token", "PREFKIT_SERVER_TOKEN", d.Server.Token, parseString,
		func(cfg *Config, v string) { cfg.Server.Token = v },
		func(cfg Config) string { return cfg.Server.Token },
	)
	token.secret = true

	return []keySpec{
		newKey("server.port", "PREFKIT_SERVER_PORT", d.Server.Port, strconv.Atoi,
			func(cfg *Config, v int) { cfg.Server.Port = v },
			func(cfg Config) int { return cfg.Server.Port },
		),
		token,
		newKey("store.backend", "PREFKIT_STORE_BACKEND", d.Store.Backend, parseString,
			func(cfg *Config, v string) { cfg.Store.Backend = v },
			func(cfg Config) string { return cfg.Store.Backend },
		),
		newKey("store.domain", "PREFKIT_STORE_DOMAIN", d.Store.Domain, parseString,
			func(cfg *Config, v string) { cfg.Store.Domain = v },
			func(cfg Config) string { return cfg.Store.Domain },
		),
		newKey("store.cache_ttl", "PREFKIT_STORE_CACHE_TTL", d.Store.CacheTTL, time.ParseDuration,
			func(cfg *Config, v time.Duration) { cfg.Store.CacheTTL = v },
			func(cfg Config) time.Duration { return cfg.Store.CacheTTL },
		),
		newKey("storage.data_dir", "PREFKIT_STORAGE_DATA_DIR", d.Storage.DataDir, parseString,
			func(cfg *Config, v string) { cfg.Storage.DataDir = v },
			func(cfg Config) string { return cfg.Storage.DataDir },
		),
		newKey("log.level", "PREFKIT_LOG_LEVEL", d.Log.Level, parseString,
			func(cfg *Config, v string) { cfg.Log.Level = v },
			func(cfg Config) string { return cfg.Log.Level },
		),
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if err := s.parse(cfg, raw); err != nil {
			slog.Warn("ignoring invalid env override, using stored value", "env", s.env, "value", raw, "error", err)
		}
	}
}
