package host

import (
	"bytes"
	"strings"
	"sync"
)

// OutputTail collects last N lines written to it, thread safe for concurrent writes
type OutputTail struct {
	maxLines int
	lines    []string
	mu       sync.Mutex
}

// NewOutputTail creates io.Writer keeping last max lines
func NewOutputTail(maximum int) *OutputTail {
	return &OutputTail{maxLines: maximum}
}

// Write satisfies io.Writer interface, keeps last N non-empty lines
func (o *OutputTail) Write(p []byte) (n int, err error) {
	if o.maxLines == 0 {
		return len(p), nil // disabled, don't keep anything
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for line := range bytes.SplitSeq(p, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		if len(o.lines) >= o.maxLines {
			o.lines = o.lines[1:]
		}
		o.lines = append(o.lines, string(line))
	}
	return len(p), nil
}

// String returns kept lines joined with new lines
func (o *OutputTail) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.lines, "\n")
}

// TailLines returns last max lines of text, all lines if max is negative
func TailLines(text string, maximum int) string {
	if maximum < 0 {
		return text
	}
	t := NewOutputTail(maximum)
	_, _ = t.Write([]byte(text))
	return t.String()
}
