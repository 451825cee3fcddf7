//go:build windows

package prefstore

import (
	"os"
	"path/filepath"
)

// platformDataDir returns %APPDATA%\<appName>.
func platformDataDir(appName string) (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		appData = filepath.Join(home, "AppData", "Roaming")
	}
	return filepath.Join(appData, appName), nil
}
