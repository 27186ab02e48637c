package capture

import (
	"errors"
	"fmt"
)

// Invoke runs op on the sink and never lets a failure out. Status errors are reported as
// warnings with msg, anything else, panics included, as unhandled.
func Invoke(op func(Sink) error, sink Sink, rep Reporter, msg string) {
	if rep == nil {
		rep = LogReporter{}
	}
	defer func() {
		if r := recover(); r != nil {
			rep.Unhandled(fmt.Errorf("panic in %s: %v", msg, r))
		}
	}()

	err := op(sink)
	if err == nil {
		return
	}
	var se *StatusError
	if errors.As(err, &se) {
		rep.Warn(msg, err)
		return
	}
	rep.Unhandled(err)
}

// StartRedirection starts the sink via Invoke
func StartRedirection(sink Sink, rep Reporter) {
	Invoke(Sink.Start, sink, rep, "failed to start stdout redirection")
}

// StopRedirection stops the sink via Invoke
func StopRedirection(sink Sink, rep Reporter) {
	Invoke(Sink.Stop, sink, rep, "failed to stop stdout redirection")
}
