// Package host runs the worker process with its standard streams captured. A launch attempt
// gets a fresh capture sink, worker exit during the startup window fails the attempt, failed
// attempts are repeated. When all attempts fail the host keeps the captured output available
// for the status page until shut down.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/umputun/stdcap/app/capture"
	"github.com/umputun/stdcap/app/eventlog"
)

//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/recorder.go -pkg mocks -skip-ensure -fmt goimports . Recorder

// Host supervises a single worker process
type Host struct {
	Command           string
	Args              []string
	Env               []string // added to the host environment
	Dir               string
	Capture           capture.Params
	StartupTimeout    time.Duration
	ShutdownTimeout   time.Duration
	Repeater          Repeater
	Reporter          capture.Reporter
	Events            Recorder
	Notifier          Notifier
	HostName          string
	NotifyTimeout     time.Duration
	NotifyMaxLogLines int
	EnableLogPrefix   bool

	once   sync.Once
	mu     sync.Mutex
	status Status
	sink   capture.Sink
}

// Notifier delivers start failure reports
type Notifier interface {
	Send(ctx context.Context, subj, text string) error
	MakeErrorHTML(command, output string) (string, error)
}

// Recorder stores host events
type Recorder interface {
	Record(ctx context.Context, ev eventlog.Event) (eventlog.Event, error)
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// State of the worker
type State string

// worker states
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// errCanceled stops repeater on shutdown
var errCanceled = errors.New("canceled")

// worker is a launched process that survived the startup window
type worker struct {
	cmd  *exec.Cmd
	done chan error
	sink capture.Sink
}

// Run launches the worker and blocks until ctx canceled. Returns nil on regular shutdown,
// *StartupError if all launch attempts failed and an error if the running worker exited on its own.
func (h *Host) Run(ctx context.Context) error {
	h.once.Do(h.setDefaults)
	log.Printf("[INFO] starting worker %s", h.commandLine())

	var last *StartupError
	var running *worker
	attempt := 0
	err := h.Repeater.Do(ctx, func() error {
		if ctx.Err() != nil {
			return errCanceled
		}
		attempt++
		w, serr := h.start(ctx, attempt)
		if serr != nil {
			if ctx.Err() != nil {
				return errCanceled
			}
			last = serr
			log.Printf("[WARN] worker start attempt %d failed, %v", attempt, serr)
			h.record(eventlog.LevelWarning, eventlog.CodeStartupFailure,
				fmt.Sprintf("worker %q failed to start, attempt %d, %v", h.Command, attempt, serr.Err), serr.Output)
			return serr
		}
		running = w
		return nil
	}, errCanceled)

	if ctx.Err() != nil && running == nil {
		h.setState(StateStopped)
		return nil
	}

	if err != nil {
		if last == nil {
			last = &StartupError{Err: err, Attempt: attempt, ExitCode: -1}
		}
		h.failed(ctx, last)
		<-ctx.Done()
		return last
	}

	return h.wait(ctx, running)
}

// Status returns current worker status, output is a live snapshot while the worker runs
func (h *Host) Status() Status {
	h.mu.Lock()
	res := h.status
	sink := h.sink
	h.mu.Unlock()

	if res.State == "" {
		res.State = StateIdle
	}
	if sink != nil {
		res.Sink = sink.String()
		if out := sink.Output(); out != "" {
			res.Output = out
		}
	}
	if res.State == StateRunning && res.PID > 0 {
		stats, err := processStats(res.PID)
		if err != nil {
			log.Printf("[DEBUG] can't get process stats for %d, %v", res.PID, err)
		}
		res.Process = stats
	}
	return res
}

// start makes one launch attempt with a new sink. Returns the worker if it survived the startup window.
func (h *Host) start(ctx context.Context, attempt int) (*worker, *StartupError) {
	h.mu.Lock()
	h.status = Status{State: StateStarting, Command: h.commandLine(), Attempt: attempt, StartedAt: time.Now()}
	h.sink = nil
	h.mu.Unlock()

	sink, err := capture.Select(h.Capture)
	if err != nil {
		return nil, h.startFailed(nil, &StartupError{Err: fmt.Errorf("can't make output sink: %w", err), Attempt: attempt, ExitCode: -1})
	}
	capture.StartRedirection(sink, h.Reporter)
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()

	cmd := exec.Command(h.Command, h.Args...) //nolint:gosec // worker command from configuration
	cmd.Dir = h.Dir
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Stdout = h.streamWriter("stdout")
	cmd.Stderr = h.streamWriter("stderr")
	if err := cmd.Start(); err != nil {
		return nil, h.startFailed(sink, &StartupError{Err: fmt.Errorf("can't start %s: %w", h.Command, err), Attempt: attempt, ExitCode: -1})
	}

	h.mu.Lock()
	h.status.PID = cmd.Process.Pid
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case werr := <-done:
		code := exitCode(cmd, werr)
		if werr == nil {
			werr = errors.New("exited during startup")
		}
		return nil, h.startFailed(sink, &StartupError{Err: fmt.Errorf("worker exited with code %d: %w", code, werr),
			Attempt: attempt, ExitCode: code})
	case <-ctx.Done():
		h.shutdown(&worker{cmd: cmd, done: done, sink: sink})
		return nil, h.startFailed(sink, &StartupError{Err: ctx.Err(), Attempt: attempt, ExitCode: exitCode(cmd, nil)})
	case <-time.After(h.StartupTimeout):
	}

	h.mu.Lock()
	h.status.State = StateRunning
	h.mu.Unlock()
	log.Printf("[INFO] worker started, pid %d, output to %s", cmd.Process.Pid, sink)
	h.record(eventlog.LevelInfo, eventlog.CodeWorkerStarted,
		fmt.Sprintf("worker %q started, pid %d, attempt %d", h.Command, cmd.Process.Pid, attempt), "")
	return &worker{cmd: cmd, done: done, sink: sink}, nil
}

// startFailed stops the sink and fills error with captured output
func (h *Host) startFailed(sink capture.Sink, serr *StartupError) *StartupError {
	if sink != nil {
		capture.StopRedirection(sink, h.Reporter)
		serr.Output = sink.Output()
	}
	h.mu.Lock()
	h.status.ExitCode = serr.ExitCode
	h.status.FinishedAt = time.Now()
	h.status.Error = serr.Err.Error()
	h.status.Output = serr.Output
	h.mu.Unlock()
	return serr
}

// failed switches to failed state and reports the last start failure
func (h *Host) failed(ctx context.Context, serr *StartupError) {
	h.mu.Lock()
	h.status.State = StateFailed
	h.status.Error = serr.Err.Error()
	h.status.Output = serr.Output
	h.mu.Unlock()

	log.Printf("[ERROR] worker %s failed to start after %d attempts, %v", h.Command, serr.Attempt, serr.Report(h.NotifyMaxLogLines))
	h.record(eventlog.LevelError, eventlog.CodeRetriesFailed,
		fmt.Sprintf("worker %q failed to start after %d attempts, %v", h.Command, serr.Attempt, serr.Err), serr.Output)

	ctxTimeout, cancel := context.WithTimeout(ctx, h.NotifyTimeout)
	defer cancel()
	if err := h.notify(ctxTimeout, serr); err != nil {
		log.Printf("[WARN] failed to notify, %v", err)
	}
}

// wait blocks until the worker exits or ctx canceled, stops the sink in both cases
func (h *Host) wait(ctx context.Context, w *worker) error {
	var werr error
	select {
	case werr = <-w.done:
	case <-ctx.Done():
		werr = h.shutdown(w)
	}

	capture.StopRedirection(w.sink, h.Reporter)
	code := exitCode(w.cmd, werr)

	h.mu.Lock()
	h.status.State = StateStopped
	h.status.ExitCode = code
	h.status.FinishedAt = time.Now()
	h.status.Output = w.sink.Output()
	h.mu.Unlock()

	if ctx.Err() != nil {
		log.Printf("[INFO] worker stopped, exit code %d", code)
		h.record(eventlog.LevelInfo, eventlog.CodeWorkerExit, fmt.Sprintf("worker %q stopped, exit code %d", h.Command, code), "")
		return nil
	}

	log.Printf("[WARN] worker exited, code %d", code)
	h.record(eventlog.LevelWarning, eventlog.CodeWorkerExit,
		fmt.Sprintf("worker %q exited, code %d", h.Command, code), w.sink.Output())
	h.mu.Lock()
	if werr != nil {
		h.status.Error = werr.Error()
	}
	h.mu.Unlock()
	return fmt.Errorf("worker exited with code %d", code)
}

// shutdown interrupts the worker and kills it if not finished in ShutdownTimeout
func (h *Host) shutdown(w *worker) error {
	if err := w.cmd.Process.Signal(os.Interrupt); err != nil {
		log.Printf("[DEBUG] can't interrupt worker, %v", err)
		_ = w.cmd.Process.Kill()
		return <-w.done
	}
	select {
	case err := <-w.done:
		return err
	case <-time.After(h.ShutdownTimeout):
		log.Printf("[WARN] worker not finished in %v, killed", h.ShutdownTimeout)
		_ = w.cmd.Process.Kill()
		return <-w.done
	}
}

func (h *Host) notify(ctx context.Context, serr *StartupError) error {
	if h.Notifier == nil || reflect.ValueOf(h.Notifier).IsNil() {
		return nil
	}
	msg, err := h.Notifier.MakeErrorHTML(h.commandLine(), TailLines(serr.Output, h.NotifyMaxLogLines))
	if err != nil {
		return fmt.Errorf("can't make html email: %w", err)
	}
	if err := h.Notifier.Send(ctx, fmt.Sprintf("failed to start %q on %s", h.Command, h.HostName), msg); err != nil {
		return fmt.Errorf("failed to send error notification: %w", err)
	}
	return nil
}

func (h *Host) record(level eventlog.Level, code eventlog.Code, msg, output string) {
	if h.Events == nil || reflect.ValueOf(h.Events).IsNil() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.Events.Record(ctx, eventlog.Event{Level: level, Code: code, Message: msg, Output: output}); err != nil {
		log.Printf("[WARN] can't record event %s, %v", code, err)
	}
}

func (h *Host) setState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.State = state
}

// streamWriter returns the current value of the named stream, redirected while the sink is active
func (h *Host) streamWriter(name string) io.Writer {
	for _, s := range h.Capture.Streams {
		if s.Name == name && s.File != nil && *s.File != nil {
			return *s.File
		}
	}
	return nil
}

func (h *Host) setDefaults() {
	if h.StartupTimeout <= 0 {
		h.StartupTimeout = 5 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
	if h.NotifyTimeout <= 0 {
		h.NotifyTimeout = 10 * time.Second
	}
	if h.Repeater == nil {
		h.Repeater = repeater.New(&strategy.Backoff{Repeats: 1, Duration: time.Millisecond, Factor: 1})
	}
	if h.Reporter == nil {
		h.Reporter = capture.LogReporter{}
	}
	if h.HostName == "" {
		h.HostName, _ = os.Hostname()
	}
	if len(h.Capture.Streams) == 0 {
		h.Capture.Streams = capture.StdStreams()
	}
	if h.EnableLogPrefix {
		echo := h.Capture.Echo
		if echo == nil {
			echo = os.Stdout
		}
		h.Capture.Echo = NewLogPrefixer(echo, h.Command)
	}
	h.mu.Lock()
	h.status = Status{State: StateIdle, Command: h.commandLine()}
	h.mu.Unlock()
}

func (h *Host) commandLine() string {
	return strings.TrimSpace(h.Command + " " + strings.Join(h.Args, " "))
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
