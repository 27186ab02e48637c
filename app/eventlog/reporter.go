package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/stdcap/app/capture"
)

// Recorder stores events
type Recorder interface {
	Record(ctx context.Context, ev Event) (Event, error)
}

// Reporter implements capture.Reporter, logs failures and records them as events
type Reporter struct {
	Recorder Recorder // nil for log only
	Timeout  time.Duration
}

var _ capture.Reporter = (*Reporter)(nil)

// Warn logs and records a warning for a failure with a status
func (r *Reporter) Warn(msg string, err error) {
	capture.LogReporter{}.Warn(msg, err)
	text := fmt.Sprintf("%s, %v", msg, err)
	var se *capture.StatusError
	if errors.As(err, &se) {
		text = fmt.Sprintf("%s, status %s, %v", msg, se.Status(), err)
	}
	r.record(Event{Level: LevelWarning, Code: CodeGeneralWarning, Message: text})
}

// Unhandled logs and records an unexpected failure
func (r *Reporter) Unhandled(err error) {
	capture.LogReporter{}.Unhandled(err)
	r.record(Event{Level: LevelError, Code: CodeUnhandled, Message: err.Error()})
}

func (r *Reporter) record(ev Event) {
	if r == nil || r.Recorder == nil {
		return
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := r.Recorder.Record(ctx, ev); err != nil {
		log.Printf("[WARN] can't record event %s, %v", ev.Code, err)
	}
}
