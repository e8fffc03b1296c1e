package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	zkr "github.com/zalando/go-keyring"

	"github.com/kalambet/prefkit/internal/backend"
	"github.com/kalambet/prefkit/internal/settings"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the store is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(settings.NewMemory(), settings.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.Token != "" {
		t.Errorf("Server.Token = %q, want empty", cfg.Server.Token)
	}
	if cfg.Store.Backend != backend.DefaultName {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, backend.DefaultName)
	}
	if cfg.Store.Domain != "com.kalambet.prefkit.user" {
		t.Errorf("Store.Domain = %q, want %q", cfg.Store.Domain, "com.kalambet.prefkit.user")
	}
	if cfg.Store.CacheTTL != 2*time.Second {
		t.Errorf("Store.CacheTTL = %s, want 2s", cfg.Store.CacheTTL)
	}
	if cfg.Storage.DataDir != backend.DefaultDataDir() {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, backend.DefaultDataDir())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

// TestStoredValues verifies that values in the store are read with their types.
func TestStoredValues(t *testing.T) {
	clearEnv(t)

	st := settings.NewMemory()
	for key, value := range map[string]any{
		"server.port":      5000,
		"store.backend":    "sqlite",
		"store.domain":     "com.example.app",
		"store.cache_ttl":  int64(500 * time.Millisecond),
		"storage.data_dir": "/tmp/prefkit-test",
		"log.level":        "debug",
	} {
		if err := st.SetObject(key, value); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := loadWith(st, settings.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.Domain != "com.example.app" {
		t.Errorf("Store.Domain = %q", cfg.Store.Domain)
	}
	if cfg.Store.CacheTTL != 500*time.Millisecond {
		t.Errorf("Store.CacheTTL = %s", cfg.Store.CacheTTL)
	}
	if cfg.Storage.DataDir != "/tmp/prefkit-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("Log.SlogLevel() = %v, want debug", cfg.Log.SlogLevel())
	}
}

// TestMistypedValueUsesDefault verifies that a stored value of the wrong type
// reads as the default instead of failing the load.
func TestMistypedValueUsesDefault(t *testing.T) {
	clearEnv(t)

	st := settings.NewMemory()
	if err := st.SetObject("server.port", "not a port"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(st, settings.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
}

// TestEnvOverride verifies that environment variables override stored values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	st := settings.NewMemory()
	if err := st.SetObject("server.port", 5000); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PREFKIT_SERVER_PORT", "6000")
	t.Setenv("PREFKIT_STORE_CACHE_TTL", "1m")
	t.Setenv("PREFKIT_SERVER_TOKEN", "env-token")

	cfg, err := loadWith(st, settings.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Store.CacheTTL != time.Minute {
		t.Errorf("Store.CacheTTL = %s, want 1m", cfg.Store.CacheTTL)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("Server.Token = %q, want %q", cfg.Server.Token, "env-token")
	}
}

// TestInvalidEnvOverrideIgnored verifies an unparsable env var keeps the stored value.
func TestInvalidEnvOverrideIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("PREFKIT_SERVER_PORT", "many")

	cfg, err := loadWith(settings.NewMemory(), settings.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
}

// TestValidation verifies a clear error for out-of-range values.
func TestValidation(t *testing.T) {
	tests := []struct {
		env, value, want string
	}{
		{"PREFKIT_SERVER_PORT", "70000", "server.port"},
		{"PREFKIT_STORE_BACKEND", "registry", "store.backend"},
		{"PREFKIT_STORE_CACHE_TTL", "-1s", "store.cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := loadWith(settings.NewMemory(), settings.NewMemory())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

// TestKeychainToken verifies the token is read from the secrets store, not the config store.
func TestKeychainToken(t *testing.T) {
	clearEnv(t)

	st := settings.NewMemory()
	if err := st.SetObject("server.token", "plain-text-token"); err != nil {
		t.Fatal(err)
	}
	secrets := settings.NewMemory()
	if err := secrets.SetObject("server.token", "keychain-secret"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(st, secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Token != "keychain-secret" {
		t.Errorf("Server.Token = %q, want %q", cfg.Server.Token, "keychain-secret")
	}
}

func TestEnsureTokenGeneratesOnce(t *testing.T) {
	secrets := settings.NewMemory()
	cfg := defaults()

	tok := ensureTokenIn(&cfg, secrets)
	if len(tok) != 36 {
		t.Fatalf("token = %q, want a UUID", tok)
	}
	stored, ok, _ := secrets.Object("server.token")
	if !ok || stored != tok {
		t.Errorf("stored token = %v, want %q", stored, tok)
	}

	if again := ensureTokenIn(&cfg, secrets); again != tok {
		t.Errorf("second call = %q, want %q", again, tok)
	}
}

func TestEnsureTokenUsesKeyring(t *testing.T) {
	zkr.MockInit()
	cfg := defaults()

	tok := EnsureToken(&cfg)

	clearEnv(t)
	loaded, err := loadWith(settings.NewMemory(), backend.NewKeyring(Domain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Server.Token != tok {
		t.Errorf("Server.Token = %q, want %q", loaded.Server.Token, tok)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	st := settings.NewMemory()

	if err := setKeyIn(st, "server.port", "4200"); err != nil {
		t.Fatalf("setKeyIn: %v", err)
	}
	if err := setKeyIn(st, "store.cache_ttl", "250ms"); err != nil {
		t.Fatalf("setKeyIn: %v", err)
	}

	raw, _, _ := st.Object("server.port")
	if raw != int64(4200) {
		t.Errorf("stored server.port = %#v, want int64(4200)", raw)
	}

	cfg, err := loadWith(st, settings.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Store.CacheTTL != 250*time.Millisecond {
		t.Errorf("Store.CacheTTL = %s, want 250ms", cfg.Store.CacheTTL)
	}
}

func TestSetKeyErrors(t *testing.T) {
	st := settings.NewMemory()

	if err := setKeyIn(st, "no.such.key", "1"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unknown key error = %v", err)
	}
	if err := setKeyIn(st, "server.token", "x"); err == nil || !strings.Contains(err.Error(), "PREFKIT_SERVER_TOKEN") {
		t.Errorf("secret key error = %v", err)
	}
	if err := setKeyIn(st, "server.port", "many"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if _, ok, _ := st.Object("server.port"); ok {
		t.Error("invalid value was written")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.Token = "hidden"

	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, ValidKeys %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if info.Key == "server.token" || info.Value == "hidden" {
			t.Errorf("secret leaked: %+v", info)
		}
		if info.Key == "store.cache_ttl" && info.Value != "2s" {
			t.Errorf("store.cache_ttl shown as %q, want 2s", info.Value)
		}
	}
}
