package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"howett.net/plist"

	"github.com/kalambet/prefkit/internal/api"
	"github.com/kalambet/prefkit/internal/backend"
	"github.com/kalambet/prefkit/internal/config"
	"github.com/kalambet/prefkit/internal/settings"
	"github.com/kalambet/prefkit/internal/storage"
)

// withStore runs fn against the configured store and closes it afterwards.
func withStore(fn func(st settings.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(st)
}

func storeKeys(st settings.Store) ([]string, error) {
	lister, ok := st.(settings.Lister)
	if !ok {
		return nil, backend.ErrNotListable
	}
	return lister.Keys()
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		asJSON, _ := cmd.Flags().GetBool("json")

		return withStore(func(st settings.Store) error {
			v, ok, err := st.Object(key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", key, err)
			}
			if !ok {
				return fmt.Errorf("setting %q not found", key)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				wire, err := api.EncodeValue(v)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(wire)
			}
			fmt.Fprintln(out, api.FormatText(v))
			return nil
		})
	},
}

func init() {
	getCmd.Flags().Bool("json", false, "print the typed wire value as JSON")
}

// --- set ---

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a setting",
	Long: `Write a setting.

Types: bool, int, float, string, data (base64), date (RFC 3339),
array and dict (JSON).

Examples:
  prefkit set greeting "Hello, World"
  prefkit set launchCount 52 --type int
  prefkit set knight '{"name": "Sir Arthur", "age": 42}' --type dict`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, text := args[0], args[1]
		typ, _ := cmd.Flags().GetString("type")

		kind, err := settings.ParseKind(typ)
		if err != nil {
			return err
		}
		v, err := api.ParseText(kind, text)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", kind, err)
		}

		return withStore(func(st settings.Store) error {
			if err := st.SetObject(key, v); err != nil {
				return fmt.Errorf("writing %s: %w", key, err)
			}
			printSuccess("Set %s = %s", key, api.FormatText(v))
			return nil
		})
	},
}

func init() {
	setCmd.Flags().String("type", "string", "value type: bool, int, float, string, data, date, array, dict")
}

// --- delete ---

// clearer is implemented by stores that can drop a whole domain at once.
type clearer interface {
	Clear() error
}

// entryLister is implemented by stores that record modification times.
type entryLister interface {
	Entries() ([]storage.Entry, error)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a setting so that it reads as its default",
	Long: `Remove a setting so that it reads as its default.

With --all, every setting of the domain is removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all && len(args) > 0:
			return fmt.Errorf("--all takes no key")
		case !all && len(args) == 0:
			return fmt.Errorf("missing key (or pass --all)")
		}

		return withStore(func(st settings.Store) error {
			if all {
				n, err := clearStore(st)
				if err != nil {
					return err
				}
				printSuccess("Deleted %d settings", n)
				return nil
			}
			key := args[0]
			if err := st.RemoveObject(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
			printSuccess("Deleted %s", key)
			return nil
		})
	},
}

func init() {
	deleteCmd.Flags().Bool("all", false, "remove every setting of the domain")
}

// clearStore removes every key of st and reports how many there were.
func clearStore(st settings.Store) (int, error) {
	keys, err := storeKeys(st)
	if err != nil {
		return 0, err
	}
	if c, ok := st.(clearer); ok {
		if err := c.Clear(); err != nil {
			return 0, fmt.Errorf("clearing domain: %w", err)
		}
		return len(keys), nil
	}
	for _, key := range keys {
		if err := st.RemoveObject(key); err != nil {
			return 0, fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return len(keys), nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		long, _ := cmd.Flags().GetBool("long")
		recent, _ := cmd.Flags().GetBool("recent")

		return withStore(func(st settings.Store) error {
			keys, err := storeKeys(st)
			if err != nil {
				return err
			}

			var updated map[string]time.Time
			if el, ok := st.(entryLister); ok {
				entries, err := el.Entries()
				if err != nil {
					return fmt.Errorf("listing entries: %w", err)
				}
				updated = make(map[string]time.Time, len(entries))
				if recent {
					keys = keys[:0]
				}
				for _, e := range entries {
					updated[e.Key] = e.UpdatedAt
					if recent {
						keys = append(keys, e.Key)
					}
				}
			} else if recent {
				return fmt.Errorf("the %T store does not record modification times", st)
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(os.Stderr, "No settings found.")
				return nil
			}
			if !long {
				for _, k := range keys {
					fmt.Fprintln(out, k)
				}
				return nil
			}

			values, err := collect(st, keys)
			if err != nil {
				return err
			}
			for _, k := range keys {
				v, ok := values[k]
				if !ok {
					continue
				}
				text := strings.ReplaceAll(api.FormatText(v), "\n", " ")
				line := fmt.Sprintf("%s\t%s\t%s", colorize(colorBold, k), settings.KindOf(v), text)
				if at, ok := updated[k]; ok {
					line += "\t" + at.Local().Format(time.DateTime)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		})
	},
}

func init() {
	listCmd.Flags().BoolP("long", "l", false, "show each setting's type and value, and when it was last written if the store records it")
	listCmd.Flags().BoolP("recent", "r", false, "order by last write, most recent first")
}

// --- domains ---

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List the domains the configured backend holds settings for",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		domains, err := listDomains(cfg)
		if err != nil {
			return err
		}
		if len(domains) == 0 {
			fmt.Fprintln(os.Stderr, "No domains found.")
			return nil
		}
		out := cmd.OutOrStdout()
		for _, d := range domains {
			fmt.Fprintln(out, d)
		}
		return nil
	},
}

var listDomains = func(cfg config.Config) ([]string, error) {
	return backend.Domains(cfg.Store.Backend, backend.Options{DataDir: cfg.Storage.DataDir})
}

// collect reads keys concurrently; each read may be a process or HTTP call.
// Keys removed in the meantime are skipped.
func collect(st settings.Store, keys []string) (map[string]any, error) {
	values := make([]any, len(keys))
	found := make([]bool, len(keys))

	var g errgroup.Group
	g.SetLimit(4)
	for i, key := range keys {
		g.Go(func() error {
			v, ok, err := st.Object(key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", key, err)
			}
			values[i], found[i] = v, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(keys))
	for i, key := range keys {
		if found[i] {
			out[key] = values[i]
		}
	}
	return out, nil
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every setting of the domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		return withStore(func(st settings.Store) error {
			keys, err := storeKeys(st)
			if err != nil {
				return err
			}
			values, err := collect(st, keys)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if err := writeExport(w, format, values); err != nil {
				return err
			}
			if output != "" {
				printSuccess("Exported %d settings to %s", len(values), output)
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("format", "plist", "output format: plist, json, yaml")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

func writeExport(w io.Writer, format string, values map[string]any) error {
	switch format {
	case "plist":
		data, err := plist.MarshalIndent(values, plist.XMLFormat, "\t")
		if err != nil {
			return fmt.Errorf("encoding plist: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(api.Plain(values))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(api.Plain(values)); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (valid: plist, json, yaml)", format)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
