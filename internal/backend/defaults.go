package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kalambet/prefkit/internal/settings"
)

// Runner executes the `defaults` tool with the given arguments, feeding
// stdin when it is non-nil, and returns its standard output.
type Runner func(ctx context.Context, stdin []byte, args ...string) ([]byte, error)

// errMissing is returned by a Runner when `defaults` exits with status 1,
// which it does for an unknown domain or key.
var errMissing = errors.New("defaults: no such domain or key")

// Defaults is a Store over macOS UserDefaults, driven through the
// `defaults` command line tool.
type Defaults struct {
	domain string
	run    Runner

	// Serializes read-modify-write cycles that go through import.
	mu sync.Mutex
}

// NewDefaults returns the UserDefaults store for domain.
func NewDefaults(domain string) *Defaults {
	return &Defaults{domain: domain, run: execDefaults}
}

// NewDefaultsWithRunner is NewDefaults with a custom command runner (for testing).
func NewDefaultsWithRunner(domain string, run Runner) *Defaults {
	return &Defaults{domain: domain, run: run}
}

func (d *Defaults) Domain() string { return d.domain }

func (d *Defaults) export() (map[string]any, error) {
	out, err := d.run(context.Background(), nil, "export", d.domain, "-")
	if errors.Is(err, errMissing) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", d.domain, err)
	}
	return decodeDomain(out)
}

func (d *Defaults) Object(key string) (any, bool, error) {
	m, err := d.export()
	if err != nil {
		return nil, false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (d *Defaults) SetObject(key string, value any) error {
	n, err := settings.Normalize(value)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if args, ok := defaultsWriteArgs(d.domain, key, n); ok {
		if _, err := d.run(context.Background(), nil, args...); err != nil {
			return fmt.Errorf("writing default for key '%s': %w", key, err)
		}
		return nil
	}

	// Dates and containers have no faithful `defaults write` form; replace
	// the whole domain instead.
	m, err := d.export()
	if err != nil {
		return err
	}
	m[key] = n
	data, err := encodeDomain(m)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.domain, err)
	}
	if _, err := d.run(context.Background(), data, "import", d.domain, "-"); err != nil {
		return fmt.Errorf("importing %s: %w", d.domain, err)
	}
	return nil
}

func (d *Defaults) RemoveObject(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.run(context.Background(), nil, "delete", d.domain, key)
	if err != nil && !errors.Is(err, errMissing) {
		return fmt.Errorf("deleting default for key '%s': %w", key, err)
	}
	return nil
}

func (d *Defaults) Keys() ([]string, error) {
	m, err := d.export()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear deletes the whole domain.
func (d *Defaults) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.run(context.Background(), nil, "delete", d.domain)
	if err != nil && !errors.Is(err, errMissing) {
		return fmt.Errorf("deleting %s: %w", d.domain, err)
	}
	return nil
}

// defaultsDomains lists the domains `defaults domains` reports, which prints
// them comma separated on one line.
func defaultsDomains(run Runner) ([]string, error) {
	out, err := run(context.Background(), nil, "domains")
	if err != nil {
		return nil, fmt.Errorf("listing domains: %w", err)
	}
	var domains []string
	for _, d := range strings.Split(string(out), ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)
	return domains, nil
}

// defaultsWriteArgs builds a `defaults write` invocation for scalar
// primitives. It reports false for dates, arrays and dicts.
func defaultsWriteArgs(domain, key string, v any) ([]string, bool) {
	args := []string{"write", domain, key}
	switch x := v.(type) {
	case bool:
		return append(args, "-bool", strconv.FormatBool(x)), true
	case int64:
		return append(args, "-int", strconv.FormatInt(x, 10)), true
	case float64:
		return append(args, "-float", strconv.FormatFloat(x, 'g', -1, 64)), true
	case string:
		return append(args, "-string", x), true
	case []byte:
		return append(args, "-data", hex.EncodeToString(x)), true
	}
	return nil, false
}

func execDefaults(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "defaults", args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, errMissing
		}
		return nil, fmt.Errorf("%w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
