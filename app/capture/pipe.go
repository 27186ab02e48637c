package capture

import (
	"os"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/text/encoding"
)

// PipeParams defines PipeSink configuration
type PipeParams struct {
	Native      bool              // redirect descriptor slots too
	Encoding    encoding.Encoding // decoding of captured bytes, host encoding if nil
	Streams     []Stream          // redirected streams, stdout and stderr if empty
	JoinTimeout time.Duration     // wait for drain goroutine on Stop, PipeJoinTimeout if zero
}

// PipeSink redirects both streams into an in-process pipe. A background goroutine drains the
// pipe into a fixed buffer, bytes above MaxCaptureSize are read and dropped so the writer
// never blocks on a full pipe.
type PipeSink struct {
	PipeParams

	mu          sync.Mutex // lifecycle
	started     bool
	disposed    bool
	reader      *os.File
	writer      *os.File
	redirectors []*Redirector
	done        chan struct{}

	bufMu     sync.Mutex // buffer, totals and final text
	buf       []byte
	total     int64
	finalized bool
	output    string
}

// NewPipeSink makes pipe sink, nothing is created until Start
func NewPipeSink(params PipeParams) *PipeSink {
	res := &PipeSink{PipeParams: params, buf: make([]byte, MaxCaptureSize)}
	res.Streams = streamsOrDefault(params.Streams)
	if res.Encoding == nil {
		res.Encoding = DetectEncoding()
	}
	if res.JoinTimeout <= 0 {
		res.JoinTimeout = PipeJoinTimeout
	}
	return res
}

// Start makes the pipe, redirects streams to its write end and starts draining
func (p *PipeSink) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.disposed {
		return nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return newStatusError("create pipe", err)
	}

	rr, err := redirectAll(p.Streams, w, p.Native)
	if err != nil {
		_ = r.Close()
		_ = w.Close()
		return err
	}

	p.reader, p.writer, p.redirectors = r, w, rr
	p.done = make(chan struct{})
	p.started = true
	go p.drain(r, p.done)
	return nil
}

// drain reads the pipe until EOF. Retains up to MaxCaptureSize bytes, the rest is discarded.
func (p *PipeSink) drain(r *os.File, done chan struct{}) {
	defer close(done)
	scratch := make([]byte, 4096)
	for {
		p.bufMu.Lock()
		offset := min(p.total, int64(len(p.buf)))
		p.bufMu.Unlock()

		dst := scratch
		if offset < int64(len(p.buf)) {
			// region above total is written by this goroutine only
			dst = p.buf[offset:]
		}
		n, err := r.Read(dst)
		if n > 0 {
			p.bufMu.Lock()
			p.total += int64(n)
			p.bufMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Stop restores streams, waits for the drain goroutine up to JoinTimeout and finalizes the text.
// Returns nil on repeated calls.
func (p *PipeSink) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil
	}
	p.disposed = true
	if !p.started {
		p.finalize()
		return nil
	}

	err := restoreAll(p.redirectors)

	// closing our write end ends the drain once worker's copies are closed too
	if cerr := p.writer.Close(); cerr != nil && err == nil {
		err = newStatusError("close pipe", cerr)
	}

	select {
	case <-p.done:
		_ = p.reader.Close()
	case <-time.After(p.JoinTimeout):
		// drain keeps running while the worker holds the pipe, it owns the reader from now on
		log.Printf("[WARN] pipe drain not finished in %v, abandoned", p.JoinTimeout)
		go func(r *os.File, done chan struct{}) {
			<-done
			_ = r.Close()
		}(p.reader, p.done)
	}

	p.finalize()
	return err
}

func (p *PipeSink) finalize() {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	p.output = decode(p.Encoding, p.buf[:min(p.total, int64(len(p.buf)))])
	p.finalized = true
}

// Output returns captured text. Before Stop it is a snapshot of what was drained so far.
func (p *PipeSink) Output() string {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	if p.finalized {
		return p.output
	}
	return decode(p.Encoding, p.buf[:min(p.total, int64(len(p.buf)))])
}

// Dropped returns number of bytes read from the pipe but not retained
func (p *PipeSink) Dropped() int64 {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return max(p.total-int64(len(p.buf)), 0)
}

func (p *PipeSink) String() string { return "pipe" }
