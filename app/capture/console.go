package capture

import (
	"os"

	"golang.org/x/term"
)

// ConsoleAttached checks if standard output or standard error is a terminal
func ConsoleAttached() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) || term.IsTerminal(int(os.Stderr.Fd()))
}
