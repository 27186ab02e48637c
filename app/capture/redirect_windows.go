//go:build windows

package capture

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

func stdHandle(fd int) (uint32, error) {
	switch fd {
	case 1:
		return windows.STD_OUTPUT_HANDLE, nil
	case 2:
		return windows.STD_ERROR_HANDLE, nil
	}
	return 0, fmt.Errorf("no standard handle for fd %d", fd)
}

// saveNative returns the current standard handle, the handle is not owned and never closed
func saveNative(fd int) (uintptr, error) {
	id, err := stdHandle(fd)
	if err != nil {
		return 0, err
	}
	h, err := windows.GetStdHandle(id)
	if err != nil {
		return 0, err
	}
	return uintptr(h), nil
}

func installNative(fd int, dest *os.File) error {
	id, err := stdHandle(fd)
	if err != nil {
		return err
	}
	return windows.SetStdHandle(id, windows.Handle(dest.Fd()))
}

func restoreNative(fd int, saved uintptr) error {
	id, err := stdHandle(fd)
	if err != nil {
		return err
	}
	return windows.SetStdHandle(id, windows.Handle(saved))
}

func releaseNative(uintptr) {}
