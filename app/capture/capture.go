// Package capture redirects the process standard streams into a sink while a worker runs
// and keeps a bounded copy of what was written. Three sinks are provided: DiscardSink (console
// already shows the output), FileSink (timestamped log file, read back on stop) and PipeSink
// (in-memory pipe drained by a background goroutine). Select picks one, Invoke runs sink
// operations without letting failures escape to the caller.
package capture

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
)

// MaxCaptureSize is the maximum number of raw bytes retained by file and pipe sinks.
// Keeps the captured text below the size of a single event log entry.
const MaxCaptureSize = 30000

// PipeJoinTimeout limits how long PipeSink.Stop waits for the drain goroutine
const PipeJoinTimeout = 2 * time.Second

// ErrFileInvalid returned when the capture file can't be read back
var ErrFileInvalid = errors.New("capture file is invalid")

// ErrSinkConstruction returned by Select for parameters no sink can be built from
var ErrSinkConstruction = errors.New("can't construct capture sink")

// Sink is an output capture strategy. Start installs the redirection, Stop removes it and
// finalizes the captured text. Stop is idempotent and safe for concurrent use.
type Sink interface {
	Start() error
	Stop() error
	Output() string
	String() string
}

// StatusError is a resource failure reported by a sink. Code is the OS error number if one
// was found in the chain, zero otherwise.
type StatusError struct {
	Op   string
	Code int
	Err  error
}

func newStatusError(op string, err error) *StatusError {
	res := &StatusError{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		res.Code = int(errno)
	}
	return res
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Status returns printable status code, "0x0" used for failures without OS error number
func (e *StatusError) Status() string {
	return fmt.Sprintf("0x%x", e.Code)
}

// Reporter receives failures absorbed by Invoke
type Reporter interface {
	Warn(msg string, err error)
	Unhandled(err error)
}

// LogReporter reports to the host log
type LogReporter struct{}

// Warn logs failure with status code
func (LogReporter) Warn(msg string, err error) {
	var se *StatusError
	if errors.As(err, &se) {
		log.Printf("[WARN] %s, status %s, %v", msg, se.Status(), err)
		return
	}
	log.Printf("[WARN] %s, %v", msg, err)
}

// Unhandled logs unexpected failure
func (LogReporter) Unhandled(err error) {
	log.Printf("[ERROR] unhandled capture failure, %v", err)
}
