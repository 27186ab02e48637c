package capture

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/text/encoding"
)

// FileParams defines FileSink configuration
type FileParams struct {
	AppPath     string            // application directory, base for LogFileName
	LogFileName string            // base name, may include relative directories, i.e. "logs/stdout"
	Native      bool              // redirect descriptor slots too
	Executable  string            // name used for the file name suffix, host executable if empty
	Encoding    encoding.Encoding // decoding of captured bytes, host encoding if nil
	Echo        io.Writer         // captured text echoed here on Stop, restored stdout if nil
	Streams     []Stream          // redirected streams, stdout and stderr if empty
}

// FileSink redirects both streams into a timestamped file. On Stop it reads back
// the first MaxCaptureSize bytes and removes the file if nothing was written.
type FileSink struct {
	FileParams
	now func() time.Time

	mu          sync.Mutex
	started     bool
	disposed    bool
	path        string
	file        *os.File
	redirectors []*Redirector
	output      string
}

// NewFileSink makes file sink, nothing is created until Start
func NewFileSink(params FileParams) *FileSink {
	res := &FileSink{FileParams: params, now: time.Now}
	res.Streams = streamsOrDefault(params.Streams)
	if res.Encoding == nil {
		res.Encoding = DetectEncoding()
	}
	return res
}

// Start creates the log file and redirects streams into it
func (f *FileSink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.disposed {
		return nil
	}

	base := filepath.Join(f.AppPath, f.LogFileName)
	if err := os.MkdirAll(filepath.Dir(base), 0o750); err != nil {
		return newStatusError("make log directory", err)
	}

	f.path = fileName(base, f.now(), os.Getpid(), f.executableStem())
	fh, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640) //nolint gosec
	if err != nil {
		return newStatusError("create log file", err)
	}
	if err := lockFile(fh); err != nil {
		_ = fh.Close()
		return newStatusError("lock log file", err)
	}

	rr, err := redirectAll(f.Streams, fh, f.Native)
	if err != nil {
		_ = fh.Close()
		return err
	}

	f.file, f.redirectors, f.started = fh, rr, true
	log.Printf("[DEBUG] stdout and stderr redirected to %s", f.path)
	return nil
}

// Stop restores streams, reads captured text back and removes empty log file.
// Returns nil on repeated calls.
func (f *FileSink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return nil
	}
	f.disposed = true
	if !f.started {
		return nil
	}
	defer func() {
		if f.file != nil {
			_ = f.file.Close()
		}
	}()

	var errs []error
	if err := f.file.Sync(); err != nil {
		log.Printf("[DEBUG] can't flush %s, %v", f.path, err)
	}
	if err := restoreAll(f.redirectors); err != nil {
		errs = append(errs, err)
	}

	fi, err := f.file.Stat()
	if err != nil {
		return errors.Join(append(errs, newStatusError("stat log file", err))...)
	}

	if fi.Size() == 0 {
		_ = f.file.Close()
		f.file = nil
		if err := os.Remove(f.path); err != nil {
			log.Printf("[WARN] can't remove empty log file %s, %v", f.path, err)
		}
		return errors.Join(errs...)
	}

	if fi.Size() > math.MaxUint32 {
		return errors.Join(append(errs, newStatusError("read log file", ErrFileInvalid))...)
	}

	buf := make([]byte, min(fi.Size(), MaxCaptureSize))
	n, err := f.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(append(errs, newStatusError("read log file", err))...)
	}
	f.output = decode(f.Encoding, buf[:n])

	if f.output != "" {
		f.echo(f.output)
	}
	return errors.Join(errs...)
}

// Output returns captured text, empty until Stop
func (f *FileSink) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output
}

// Path returns the log file path, empty until Start
func (f *FileSink) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *FileSink) String() string {
	return "file:" + filepath.Join(f.AppPath, f.LogFileName)
}

// echo is best-effort, failures ignored
func (f *FileSink) echo(text string) {
	w := f.Echo
	if w == nil {
		w = os.Stdout
	}
	if _, err := io.WriteString(w, text); err != nil {
		return
	}
	if s, ok := w.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func (f *FileSink) executableStem() string {
	name := f.Executable
	if name == "" {
		exe, err := os.Executable()
		if err != nil {
			return "unknown"
		}
		name = exe
	}
	name = filepath.Base(name)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// fileName makes {base}_{yyyyMMddHHmmss}_{pid}_{stem}.log
func fileName(base string, ts time.Time, pid int, stem string) string {
	return fmt.Sprintf("%s_%s_%d_%s.log", base, ts.Format("20060102150405"), pid, stem)
}
