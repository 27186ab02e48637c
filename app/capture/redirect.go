package capture

import (
	"errors"
	"os"
	"sync"
)

// Stream is a process-wide standard stream. File points to the runtime-level variable
// (os.Stdout, os.Stderr), FD is the descriptor slot used for native redirection,
// negative FD disables native redirection for the stream.
type Stream struct {
	Name string
	FD   int
	File **os.File
}

// StdStreams returns standard output and standard error streams
func StdStreams() []Stream {
	return []Stream{
		{Name: "stdout", FD: 1, File: &os.Stdout},
		{Name: "stderr", FD: 2, File: &os.Stderr},
	}
}

// Redirector swaps a stream's destination and restores it later.
// With native mode the descriptor slot is redirected as well, so writes done
// directly to the descriptor (by cgo code or anything holding the raw fd) are captured too.
type Redirector struct {
	stream Stream
	dest   *os.File
	native bool

	mu        sync.Mutex
	active    bool
	saved     *os.File
	savedFD   uintptr
	hasNative bool
}

// NewRedirector makes redirector for the stream, nothing is changed until Start
func NewRedirector(stream Stream, dest *os.File, native bool) *Redirector {
	return &Redirector{stream: stream, dest: dest, native: native}
}

// Start installs the destination. Calling Start on an active redirector does nothing.
func (r *Redirector) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}
	if r.stream.File == nil {
		return newStatusError("redirect "+r.stream.Name, errors.New("no stream variable"))
	}

	if r.native && r.stream.FD >= 0 {
		saved, err := saveNative(r.stream.FD)
		if err != nil {
			return newStatusError("save "+r.stream.Name, err)
		}
		if err := installNative(r.stream.FD, r.dest); err != nil {
			releaseNative(saved)
			return newStatusError("redirect "+r.stream.Name, err)
		}
		r.savedFD, r.hasNative = saved, true
	}

	r.saved = *r.stream.File
	*r.stream.File = r.dest
	r.active = true
	return nil
}

// Stop restores the saved destination. Safe to call without Start and more than once.
func (r *Redirector) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	r.active = false
	*r.stream.File = r.saved
	r.saved = nil

	if !r.hasNative {
		return nil
	}
	r.hasNative = false
	if err := restoreNative(r.stream.FD, r.savedFD); err != nil {
		return newStatusError("restore "+r.stream.Name, err)
	}
	return nil
}

// redirectAll starts redirectors for all streams, on failure already started ones are stopped
func redirectAll(streams []Stream, dest *os.File, native bool) ([]*Redirector, error) {
	res := make([]*Redirector, 0, len(streams))
	for _, s := range streams {
		r := NewRedirector(s, dest, native)
		if err := r.Start(); err != nil {
			_ = restoreAll(res)
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// restoreAll stops all redirectors in reverse order, keeps going on errors
func restoreAll(rr []*Redirector) error {
	var errs []error
	for i := len(rr) - 1; i >= 0; i-- {
		if err := rr[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func streamsOrDefault(streams []Stream) []Stream {
	if len(streams) == 0 {
		return StdStreams()
	}
	return streams
}
