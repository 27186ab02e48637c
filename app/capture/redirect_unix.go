//go:build !windows

package capture

import (
	"os"

	"golang.org/x/sys/unix"
)

// saveNative clones the descriptor, the clone is close-on-exec to keep it out of workers
func saveNative(fd int) (uintptr, error) {
	saved, err := unix.Dup(fd)
	if err != nil {
		return 0, err
	}
	unix.CloseOnExec(saved)
	return uintptr(saved), nil
}

// installNative points fd to the same file description as dest
func installNative(fd int, dest *os.File) error {
	return unix.Dup2(int(dest.Fd()), fd)
}

// restoreNative points fd back to the saved description and closes the clone
func restoreNative(fd int, saved uintptr) error {
	err := unix.Dup2(int(saved), fd)
	releaseNative(saved)
	return err
}

func releaseNative(saved uintptr) {
	_ = unix.Close(int(saved))
}
