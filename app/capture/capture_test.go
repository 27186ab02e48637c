package capture

import (
	"errors"
	"os"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStreams makes stdout/stderr lookalikes backed by temp files, so tests never touch os.Stdout
func testStreams(t *testing.T) (streams []Stream, stdout, stderr **os.File) {
	t.Helper()
	dir := t.TempDir()
	o, err := os.CreateTemp(dir, "stdout")
	require.NoError(t, err)
	e, err := os.CreateTemp(dir, "stderr")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = o.Close()
		_ = e.Close()
	})
	outVar, errVar := o, e
	streams = []Stream{{Name: "stdout", FD: -1, File: &outVar}, {Name: "stderr", FD: -1, File: &errVar}}
	return streams, &outVar, &errVar
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestStatusError(t *testing.T) {
	err := newStatusError("create log file", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT})
	assert.Equal(t, int(syscall.ENOENT), err.Code)
	assert.Equal(t, "create log file: open /x: no such file or directory", err.Error())
	assert.Equal(t, "0x2", err.Status())
	assert.True(t, errors.Is(err, os.ErrNotExist))

	err = newStatusError("read log file", ErrFileInvalid)
	assert.Equal(t, 0, err.Code)
	assert.Equal(t, "0x0", err.Status())
	assert.ErrorIs(t, err, ErrFileInvalid)
}

func TestSinks_OutputBeforeStart(t *testing.T) {
	streams, _, _ := testStreams(t)
	sinks := []Sink{
		&DiscardSink{},
		NewFileSink(FileParams{AppPath: t.TempDir(), LogFileName: "stdout", Streams: streams}),
		NewPipeSink(PipeParams{Streams: streams}),
	}
	for _, s := range sinks {
		assert.Empty(t, s.Output(), s.String())
	}
}

func TestSinks_StopWithoutStart(t *testing.T) {
	streams, stdout, _ := testStreams(t)
	orig := *stdout
	sinks := []Sink{
		&DiscardSink{},
		NewFileSink(FileParams{AppPath: t.TempDir(), LogFileName: "stdout", Streams: streams}),
		NewPipeSink(PipeParams{Streams: streams}),
	}
	for _, s := range sinks {
		require.NoError(t, s.Stop(), s.String())
		require.NoError(t, s.Stop(), s.String())
		assert.Empty(t, s.Output(), s.String())
		assert.Same(t, orig, *stdout)
	}
}
