package host

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sync"
)

const prefixCommandMaxLen = 16
const prefixCutCommandSuffix = "..."

// LogPrefixer is io.Writer adding "{worker} " prefix to each line. A line split across
// writes gets a single prefix.
type LogPrefixer struct {
	writer    io.Writer
	prefix    []byte
	mu        sync.Mutex
	midOfLine bool
}

// NewLogPrefixer makes prefixer for the worker command, prefix made from the executable name
func NewLogPrefixer(writer io.Writer, command string) *LogPrefixer {
	return &LogPrefixer{writer: writer, prefix: prefixForCommand(command)}
}

func (p *LogPrefixer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var written int
	for len(data) > 0 {
		line := data
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			line = data[:idx+1]
		}
		if !p.midOfLine {
			if _, err := p.writer.Write(p.prefix); err != nil {
				return written, err
			}
		}
		n, err := p.writer.Write(line)
		written += n
		if err != nil {
			return written, err
		}
		p.midOfLine = line[len(line)-1] != '\n'
		data = data[len(line):]
	}
	return written, nil
}

func prefixForCommand(command string) []byte {
	name := filepath.Base(command)
	if len(name) > prefixCommandMaxLen {
		name = name[:prefixCommandMaxLen] + prefixCutCommandSuffix
	}
	return fmt.Appendf(nil, "{%s} ", name)
}
