//go:build darwin

package backend

import (
	"os"
	"path/filepath"
)

// DefaultName is the backend used when none is configured: UserDefaults.
const DefaultName = NameDefaults

func DefaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "prefkit")
	}
	return "prefkit-data"
}
