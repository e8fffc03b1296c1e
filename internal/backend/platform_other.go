//go:build !darwin

package backend

import (
	"os"
	"path/filepath"
)

// DefaultName is the backend used when none is configured: an XDG plist file.
const DefaultName = NameFile

func DefaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "prefkit-data"
		}
	}
	return filepath.Join(dir, "prefkit")
}
