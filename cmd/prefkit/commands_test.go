package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"howett.net/plist"

	"github.com/kalambet/prefkit/internal/api"
	"github.com/kalambet/prefkit/internal/backend"
	"github.com/kalambet/prefkit/internal/config"
	"github.com/kalambet/prefkit/internal/settings"
	"github.com/kalambet/prefkit/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 4100, Token: "test-token"},
		Store: config.StoreConfig{
			Backend:  "memory",
			Domain:   "com.example.app",
			CacheTTL: 2 * time.Second,
		},
		Log: config.LogConfig{Level: "info"},
	}
}

// useStore points the commands at st for the duration of the test.
func useStore(t *testing.T, st settings.Store) {
	t.Helper()
	origLoad, origOpen := loadConfig, openStore
	loadConfig = func() (config.Config, error) { return testConfig(), nil }
	openStore = func(config.Config) (settings.Store, func() error, error) {
		return st, func() error { return nil }, nil
	}
	t.Cleanup(func() {
		loadConfig, openStore = origLoad, origOpen
	})
}

// resetFlags restores every flag to its default; cobra keeps parsed values
// on the package-level commands between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// run executes the root command and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	noColor = true
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSetAndGetCommands(t *testing.T) {
	store := settings.NewMemory()
	useStore(t, store)

	if _, err := run(t, "set", "launchCount", "52", "--type", "int"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, _ := store.Object("launchCount")
	if !ok || raw != int64(52) {
		t.Fatalf("stored = %#v", raw)
	}

	out, err := run(t, "get", "launchCount")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "52" {
		t.Errorf("get output = %q, want 52", out)
	}

	out, err = run(t, "get", "launchCount", "--json")
	if err != nil {
		t.Fatalf("get --json: %v", err)
	}
	var wire api.Value
	if err := json.Unmarshal([]byte(out), &wire); err != nil {
		t.Fatalf("parsing get --json output: %v", err)
	}
	if wire.Type != "int" {
		t.Errorf("wire type = %q, want int", wire.Type)
	}
}

func TestGetJSONNonFiniteFloat(t *testing.T) {
	store := settings.NewMemory()
	store.SetObject("ratio", math.Inf(-1))
	useStore(t, store)

	out, err := run(t, "get", "ratio", "--json")
	if err != nil {
		t.Fatalf("get --json: %v", err)
	}
	if !strings.Contains(out, `"value": "-Inf"`) {
		t.Errorf("get --json output = %q", out)
	}
}

func TestSetCommandTypes(t *testing.T) {
	store := settings.NewMemory()
	useStore(t, store)

	tests := []struct {
		typ, text string
		want      any
	}{
		{"bool", "true", true},
		{"float", "2.5", 2.5},
		{"string", "Hello, World", "Hello, World"},
		{"data", "aGk=", []byte("hi")},
		{"array", `["a", 1]`, []any{"a", int64(1)}},
		{"dict", `{"name": "Sir Arthur", "age": 42}`, map[string]any{"name": "Sir Arthur", "age": int64(42)}},
	}
	for _, tt := range tests {
		if _, err := run(t, "set", "k-"+tt.typ, tt.text, "--type", tt.typ); err != nil {
			t.Fatalf("set --type %s: %v", tt.typ, err)
		}
		raw, _, _ := store.Object("k-" + tt.typ)
		if !reflect.DeepEqual(raw, tt.want) {
			t.Errorf("--type %s stored %#v, want %#v", tt.typ, raw, tt.want)
		}
	}
}

func TestSetCommandRejectsBadValues(t *testing.T) {
	store := settings.NewMemory()
	useStore(t, store)

	if _, err := run(t, "set", "k", "many", "--type", "int"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if _, err := run(t, "set", "k", "1", "--type", "widget"); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, ok, _ := store.Object("k"); ok {
		t.Error("invalid value was written")
	}
}

func TestGetMissing(t *testing.T) {
	useStore(t, settings.NewMemory())
	_, err := run(t, "get", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("get missing error = %v", err)
	}
}

func TestDeleteCommand(t *testing.T) {
	store := settings.NewMemory()
	store.SetObject("k", "v")
	useStore(t, store)

	if _, err := run(t, "delete", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Object("k"); ok {
		t.Error("delete left the key in place")
	}
}

func TestDeleteAllCommand(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	sqlite := db.Domain("com.example.app")
	other := db.Domain("com.example.other")
	other.SetObject("keep", true)

	for name, st := range map[string]settings.Store{
		"memory": settings.NewMemory(),
		"sqlite": sqlite,
	} {
		t.Run(name, func(t *testing.T) {
			st.SetObject("a", true)
			st.SetObject("b", "x")
			useStore(t, st)

			if _, err := run(t, "delete", "--all"); err != nil {
				t.Fatalf("delete --all: %v", err)
			}
			if keys, _ := st.(settings.Lister).Keys(); len(keys) != 0 {
				t.Errorf("keys after delete --all = %v", keys)
			}
		})
	}
	if _, ok, _ := other.Object("keep"); !ok {
		t.Error("delete --all reached another domain")
	}
}

func TestDeleteCommandArgs(t *testing.T) {
	store := settings.NewMemory()
	store.SetObject("k", "v")
	useStore(t, store)

	if _, err := run(t, "delete"); err == nil {
		t.Error("expected error without a key")
	}
	if _, err := run(t, "delete", "k", "--all"); err == nil {
		t.Error("expected error for a key with --all")
	}
	if _, ok, _ := store.Object("k"); !ok {
		t.Error("rejected delete removed the key")
	}
}

func TestListCommand(t *testing.T) {
	store := settings.NewMemory()
	store.SetObject("b", true)
	store.SetObject("a", int64(1))
	useStore(t, store)

	out, err := run(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "a\nb\n" {
		t.Errorf("list output = %q", out)
	}

	out, err = run(t, "list", "--long")
	if err != nil {
		t.Fatalf("list --long: %v", err)
	}
	if !strings.Contains(out, "a\tint\t1") || !strings.Contains(out, "b\tbool\ttrue") {
		t.Errorf("list --long output = %q", out)
	}
}

func TestListRecentOnSQLite(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	st := db.Domain("com.example.app")
	for _, k := range []string{"b", "a", "c"} {
		st.SetObject(k, int64(1))
		time.Sleep(2 * time.Millisecond)
	}
	useStore(t, st)

	out, err := run(t, "list", "--recent")
	if err != nil {
		t.Fatalf("list --recent: %v", err)
	}
	if out != "c\na\nb\n" {
		t.Errorf("list --recent output = %q", out)
	}

	out, err = run(t, "list", "--long")
	if err != nil {
		t.Fatalf("list --long: %v", err)
	}
	updated := regexp.MustCompile(`(?m)^a\tint\t1\t\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
	if !updated.MatchString(out) {
		t.Errorf("list --long output = %q, want an updated-at column", out)
	}
}

func TestListRecentNeedsTimes(t *testing.T) {
	store := settings.NewMemory()
	store.SetObject("a", true)
	useStore(t, store)

	if _, err := run(t, "list", "--recent"); err == nil {
		t.Error("expected error for a store without modification times")
	}
}

func TestDomainsCommand(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	db.Domain("com.example.b").SetObject("k", true)
	db.Domain("com.example.a").SetObject("k", true)
	db.Close()

	origLoad := loadConfig
	loadConfig = func() (config.Config, error) {
		cfg := testConfig()
		cfg.Store.Backend = backend.NameSQLite
		cfg.Storage.DataDir = dir
		return cfg, nil
	}
	t.Cleanup(func() { loadConfig = origLoad })

	out, err := run(t, "domains")
	if err != nil {
		t.Fatalf("domains: %v", err)
	}
	if out != "com.example.a\ncom.example.b\n" {
		t.Errorf("domains output = %q", out)
	}

	useStore(t, settings.NewMemory())
	if _, err := run(t, "domains"); err == nil {
		t.Error("expected error for the memory backend")
	}
}

func TestWatchHangup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal)
	reloads := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		watchHangup(ctx, sig, func() { reloads <- struct{}{} })
		close(done)
	}()

	for range 2 {
		sig <- syscall.SIGHUP
		<-reloads
	}
	cancel()
	<-done
}

func TestReloadStore(t *testing.T) {
	inner := settings.NewMemory()
	cached := backend.NewCached(inner, time.Hour)
	inner.SetObject("k", "old")
	cached.Object("k")
	inner.SetObject("k", "new")

	path := filepath.Join(t.TempDir(), "app.plist")
	file, err := backend.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := backend.OpenFile(path)
	other.SetObject("k", "from disk")

	reloadStore(cached, file)

	if v, _, _ := cached.Object("k"); v != "new" {
		t.Errorf("cached value after reload = %#v, want new", v)
	}
	if v, _, _ := file.Object("k"); v != "from disk" {
		t.Errorf("file value after reload = %#v, want from disk", v)
	}
	reloadStore(nil, nil)
}

func seededStore() *settings.Memory {
	store := settings.NewMemory()
	store.SetObject("greeting", "Hello, World")
	store.SetObject("launchCount", int64(52))
	store.SetObject("blob", []byte("hi"))
	store.SetObject("knight", map[string]any{"name": "Sir Arthur", "age": int64(42)})
	return store
}

func TestExportJSON(t *testing.T) {
	useStore(t, seededStore())

	out, err := run(t, "export", "--format", "json")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if got["greeting"] != "Hello, World" || got["launchCount"] != float64(52) || got["blob"] != "aGk=" {
		t.Errorf("export = %v", got)
	}
}

func TestExportYAML(t *testing.T) {
	useStore(t, seededStore())

	out, err := run(t, "export", "--format", "yaml")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var got map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	knight, ok := got["knight"].(map[string]any)
	if !ok || knight["name"] != "Sir Arthur" || knight["age"] != 42 {
		t.Errorf("export knight = %#v", got["knight"])
	}
}

func TestExportPlistToFile(t *testing.T) {
	useStore(t, seededStore())
	path := filepath.Join(t.TempDir(), "export.plist")

	if _, err := run(t, "export", "--format", "plist", "--output", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if _, err := plist.Unmarshal(data, &got); err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if got["greeting"] != "Hello, World" {
		t.Errorf("export = %v", got)
	}
	if b, ok := got["blob"].([]byte); !ok || string(b) != "hi" {
		t.Errorf("blob = %#v, want raw data", got["blob"])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	useStore(t, seededStore())
	if _, err := run(t, "export", "--format", "toml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestCommandsAgainstRemote(t *testing.T) {
	remote := settings.NewMemory()
	srv := httptest.NewServer(api.NewHandler(api.Deps{Store: remote, Token: "test-token"}))
	defer srv.Close()

	// openStore's remote branch, with the config stubbed.
	origLoad := loadConfig
	loadConfig = func() (config.Config, error) { return testConfig(), nil }
	t.Cleanup(func() {
		loadConfig = origLoad
		resetFlags(rootCmd)
	})

	if _, err := run(t, "--remote", srv.URL, "set", "greeting", "hi", "--type", "string"); err != nil {
		t.Fatalf("set via remote: %v", err)
	}
	if v, _, _ := remote.Object("greeting"); v != "hi" {
		t.Errorf("remote store holds %#v", v)
	}
	out, err := run(t, "--remote", srv.URL, "list")
	if err != nil {
		t.Fatalf("list via remote: %v", err)
	}
	if out != "greeting\n" {
		t.Errorf("list output = %q", out)
	}
}

func TestConfigShow(t *testing.T) {
	useStore(t, settings.NewMemory())

	out, err := run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"server.port = 4100", "store.domain = com.example.app", "store.cache_ttl = 2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "test-token") {
		t.Error("config show leaked the token")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Errorf("readPIDFile = %d, %v; want %d", pid, err, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still present")
	}
}
