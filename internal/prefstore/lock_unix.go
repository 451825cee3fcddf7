//go:build !windows

package prefstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes a non-blocking flock(2) advisory lock.
func tryLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
