//go:build !windows

package capture

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes advisory exclusive lock, released when the file is closed
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
