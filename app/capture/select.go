package capture

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
)

// Params defines inputs for sink selection
type Params struct {
	FileLoggingEnabled bool
	ConsoleAttached    bool
	StdoutLogFile      string // base file name relative to AppPath, used by file sink
	AppPath            string
	Native             bool
	Encoding           encoding.Encoding
	Echo               io.Writer
	Streams            []Stream
}

// Select picks the sink: file sink if file logging enabled, pipe sink if no console attached
// and discard sink otherwise, as the console shows the output already.
func Select(p Params) (Sink, error) {
	switch {
	case p.FileLoggingEnabled:
		if strings.TrimSpace(p.StdoutLogFile) == "" {
			return nil, fmt.Errorf("file logging enabled without log file name: %w", ErrSinkConstruction)
		}
		return NewFileSink(FileParams{AppPath: p.AppPath, LogFileName: p.StdoutLogFile, Native: p.Native,
			Encoding: p.Encoding, Echo: p.Echo, Streams: p.Streams}), nil
	case !p.ConsoleAttached:
		return NewPipeSink(PipeParams{Native: p.Native, Encoding: p.Encoding, Streams: p.Streams}), nil
	default:
		return &DiscardSink{}, nil
	}
}
