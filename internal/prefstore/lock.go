package prefstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a writer waits for another process.
const DefaultLockTimeout = 10 * time.Second

// lockFile takes an exclusive cross-process lock on path, creating the file
// if needed. It polls with backoff until timeout. The returned func
// releases the lock and may be called more than once.
func lockFile(path string, timeout time.Duration) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	backoff := 5 * time.Millisecond
	for tryLock(f) != nil {
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("lock %s: timed out after %v", filepath.Base(path), timeout)
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}

	var once sync.Once
	var unlockErr error
	return func() error {
		once.Do(func() {
			unlockErr = unlockFile(f)
			f.Close()
		})
		return unlockErr
	}, nil
}
