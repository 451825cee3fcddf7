//go:build darwin

package prefstore

import (
	"os"
	"path/filepath"
)

// platformDataDir returns ~/Library/Application Support/<appName>.
func platformDataDir(appName string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "Application Support", appName), nil
}
