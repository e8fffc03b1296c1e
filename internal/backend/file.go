package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kalambet/prefkit/internal/settings"
)

// File stores one domain as an XML property list on disk. Every write
// rewrites the whole file through a temp file and rename.
type File struct {
	path string

	mu   sync.RWMutex
	data map[string]any
}

// FilePath returns the default location for a domain's plist file:
// $XDG_CONFIG_HOME/prefkit/<domain>.plist.
func FilePath(domain string) string {
	return filepath.Join(fileDir(), domain+".plist")
}

func fileDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "prefkit")
}

// fileDomains lists the domains that have a plist file in dir.
func fileDomains(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var domains []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".plist") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(name, ".plist"))
	}
	sort.Strings(domains)
	return domains, nil
}

// OpenFile loads the plist at path. A missing file is an empty domain.
func OpenFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

// Reload re-reads the file, replacing everything held in memory.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", f.path, err)
	}
	m, err := decodeDomain(data)
	if err != nil {
		return fmt.Errorf("loading %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.data = m
	f.mu.Unlock()
	return nil
}

func (f *File) Object(key string) (any, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return copyValue(v), true, nil
}

func (f *File) SetObject(key string, value any) error {
	n, err := settings.Normalize(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[key]
	f.data[key] = n
	if err := f.save(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) RemoveObject(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[key]
	if !had {
		return nil
	}
	delete(f.data, key)
	if err := f.save(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

func (f *File) Keys() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every setting, leaving an empty plist behind.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.data
	f.data = make(map[string]any)
	if err := f.save(); err != nil {
		f.data = prev
		return err
	}
	return nil
}

// save must be called with f.mu held.
func (f *File) save() error {
	out, err := encodeDomain(f.data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.path, err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

// Watch reloads the store whenever the file changes on disk and then calls
// onChange, which may be nil. It blocks until ctx is cancelled.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Writes replace the file by rename, so watch the directory.
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	slog.Debug("watching settings file", "path", f.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				slog.Warn("reloading settings file failed", "path", f.path, "error", err)
				continue
			}
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("settings file watcher error", "error", err)
		}
	}
}
