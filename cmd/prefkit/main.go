package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/prefkit/internal/api"
	"github.com/kalambet/prefkit/internal/backend"
	"github.com/kalambet/prefkit/internal/config"
	"github.com/kalambet/prefkit/internal/settings"
)

var version = "dev"

var (
	noColor     bool
	flagDomain  string
	flagBackend string
	flagRemote  string
)

var rootCmd = &cobra.Command{
	Use:   "prefkit",
	Short: "Typed, persistent settings over the platform preference store",
	Long: `prefkit reads and writes settings in the platform preference store
(UserDefaults on macOS, a plist file elsewhere), a sqlite database, the OS
keychain, or a remote prefkit server.

Examples:
  prefkit set launchCount 3 --type int
  prefkit get launchCount
  prefkit export --format yaml
  prefkit serve --mcp`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&flagDomain, "domain", "", "settings domain (default: store.domain)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "store backend: "+strings.Join(backend.Names(), ", ")+" (default: store.backend)")
	rootCmd.PersistentFlags().StringVar(&flagRemote, "remote", "", "URL of a running prefkit server to use instead of a local store")

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, listCmd, domainsCmd, exportCmd, configCmd, serveCmd, stopCmd, statusCmd)
}

func main() {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration, applies the global flags, and sets up
// logging.
var loadConfig = func() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flagDomain != "" {
		cfg.Store.Domain = flagDomain
	}
	if flagBackend != "" {
		cfg.Store.Backend = flagBackend
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
	return cfg, nil
}

// openStore returns the store the settings commands operate on.
var openStore = func(cfg config.Config) (settings.Store, func() error, error) {
	if flagRemote != "" {
		if cfg.Server.Token == "" {
			return nil, nil, fmt.Errorf("no API token for %s; set PREFKIT_SERVER_TOKEN", flagRemote)
		}
		return api.NewClient(flagRemote, cfg.Server.Token), func() error { return nil }, nil
	}
	o, err := backend.Open(cfg.Store.Backend, backend.Options{
		Domain:  cfg.Store.Domain,
		DataDir: cfg.Storage.DataDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return o.Store, o.Close, nil
}
