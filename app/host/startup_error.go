package host

import "strings"

// StartupError is a failed launch attempt with the output captured during the attempt
type StartupError struct {
	Err      error
	Output   string
	Attempt  int
	ExitCode int // -1 if the worker didn't exit or wasn't started
}

func (e *StartupError) Error() string {
	return e.Err.Error()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Report returns string combining the error and last max lines of the output
func (e *StartupError) Report(maxLines int) string {
	out := TailLines(e.Output, maxLines)
	if strings.TrimSpace(out) == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + out
}
