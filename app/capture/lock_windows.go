//go:build windows

package capture

import "os"

// lockFile does nothing on windows, file name carries the pid and no other host writes into it
func lockFile(*os.File) error { return nil }
