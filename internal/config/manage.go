package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/prefkit/internal/backend"
	"github.com/kalambet/prefkit/internal/settings"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  s.extract(cfg),
		})
	}
	return result
}

// SetKey writes a config key to the platform store.
func SetKey(key, value string) error {
	st, err := platformStore()
	if err != nil {
		return err
	}
	return setKeyIn(st, key, value)
}

func setKeyIn(st settings.Store, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	if err := s.write(st, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

var tokenSetting = settings.Declare[string](configKey[string]{key: "server.token"})

// EnsureToken returns the API token, generating one and saving it to the
// keychain on first use.
func EnsureToken(cfg *Config) string {
	return ensureTokenIn(cfg, backend.NewKeyring(Domain))
}

func ensureTokenIn(cfg *Config, secrets settings.Store) string {
	if cfg.Server.Token != "" {
		return cfg.Server.Token
	}
	cfg.Server.Token = uuid.NewString()
	tokenSetting.Set(secrets, cfg.Server.Token)
	return cfg.Server.Token
}
