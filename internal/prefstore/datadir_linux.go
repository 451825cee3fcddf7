//go:build linux

package prefstore

import (
	"os"
	"path/filepath"
)

// platformDataDir returns $XDG_DATA_HOME/<appName> if set, otherwise
// ~/.local/share/<appName>.
func platformDataDir(appName string) (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appName), nil
}
