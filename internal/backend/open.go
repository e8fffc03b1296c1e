package backend

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kalambet/prefkit/internal/settings"
	"github.com/kalambet/prefkit/internal/storage"
)

// Backend names accepted by Open.
const (
	NameDefaults = "defaults"
	NameFile     = "file"
	NameSQLite   = "sqlite"
	NameMemory   = "memory"
	NameKeyring  = "keyring"
)

// ErrNotListable is returned by Keys on stores that cannot enumerate keys.
var ErrNotListable = errors.New("store cannot list its keys")

// Names returns the backend names Open accepts.
func Names() []string {
	return []string{NameDefaults, NameFile, NameSQLite, NameMemory, NameKeyring}
}

// Options configures Open.
type Options struct {
	Domain  string
	DataDir string
	// Path overrides the plist location used by the file backend.
	Path string
}

// Opened is a store returned by Open together with its cleanup.
type Opened struct {
	Store settings.Store
	// File is set when the backend is a plist file, so callers can watch it.
	File  *File
	close func() error
}

func (o *Opened) Close() error {
	if o.close == nil {
		return nil
	}
	return o.close()
}

// Open builds the named backend for opts.Domain.
func Open(name string, opts Options) (*Opened, error) {
	if opts.Domain == "" {
		return nil, fmt.Errorf("opening %s backend: empty domain", name)
	}
	switch name {
	case NameDefaults:
		return &Opened{Store: NewDefaults(opts.Domain)}, nil
	case NameFile:
		path := opts.Path
		if path == "" {
			path = FilePath(opts.Domain)
		}
		f, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: f, File: f}, nil
	case NameSQLite:
		dir := opts.DataDir
		if dir == "" {
			dir = DefaultDataDir()
		}
		db, err := storage.Open(filepath.Clean(dir))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite backend: %w", err)
		}
		return &Opened{Store: db.Domain(opts.Domain), close: db.Close}, nil
	case NameMemory:
		return &Opened{Store: settings.NewMemory()}, nil
	case NameKeyring:
		return &Opened{Store: NewKeyring(opts.Domain)}, nil
	}
	return nil, fmt.Errorf("unknown backend %q (valid: %v)", name, Names())
}

// Domains lists the domains the named backend holds settings for. The
// memory and keyring backends cannot enumerate domains.
func Domains(name string, opts Options) ([]string, error) {
	switch name {
	case NameDefaults:
		return defaultsDomains(execDefaults)
	case NameFile:
		dir := fileDir()
		if opts.Path != "" {
			dir = filepath.Dir(opts.Path)
		}
		return fileDomains(dir)
	case NameSQLite:
		dir := opts.DataDir
		if dir == "" {
			dir = DefaultDataDir()
		}
		db, err := storage.Open(filepath.Clean(dir))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite backend: %w", err)
		}
		defer db.Close()
		return db.Domains()
	case NameMemory, NameKeyring:
		return nil, fmt.Errorf("%s backend cannot list domains", name)
	}
	return nil, fmt.Errorf("unknown backend %q (valid: %v)", name, Names())
}
