package capture

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func newTestFileSink(t *testing.T) (sink *FileSink, stdout, stderr **os.File, echo *bytes.Buffer) {
	t.Helper()
	streams, stdout, stderr := testStreams(t)
	echo = &bytes.Buffer{}
	sink = NewFileSink(FileParams{AppPath: t.TempDir(), LogFileName: "logs/stdout", Executable: "/usr/bin/worker.bin",
		Encoding: unicode.UTF8, Echo: echo, Streams: streams})
	sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return sink, stdout, stderr, echo
}

func logFiles(t *testing.T, dir string) []string {
	t.Helper()
	res, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	return res
}

func TestFileSink_Capture(t *testing.T) {
	sink, stdout, stderr, echo := newTestFileSink(t)
	orig := *stdout
	require.NoError(t, sink.Start())
	assert.NotSame(t, orig, *stdout)
	assert.Empty(t, sink.Output(), "nothing until stop")

	_, err := (*stdout).WriteString("line 1\n")
	require.NoError(t, err)
	_, err = (*stderr).WriteString("error line\n")
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	assert.Same(t, orig, *stdout)
	assert.Equal(t, "line 1\nerror line\n", sink.Output())
	assert.Equal(t, "line 1\nerror line\n", echo.String())

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, "line 1\nerror line\n", string(data), "non-empty file kept")
	assert.Equal(t, "stdout_20240102030405_"+strconv.Itoa(os.Getpid())+"_worker.log", filepath.Base(sink.Path()))
}

func TestFileSink_EmptyFileRemoved(t *testing.T) {
	sink, _, _, echo := newTestFileSink(t)
	require.NoError(t, sink.Start())
	path := sink.Path()
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	assert.Empty(t, sink.Output())
	assert.Empty(t, echo.String())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "empty log file removed")
	assert.Empty(t, logFiles(t, filepath.Dir(path)))
}

func TestFileSink_Truncated(t *testing.T) {
	sink, stdout, _, _ := newTestFileSink(t)
	require.NoError(t, sink.Start())

	data := strings.Repeat("0123456789", 4000)
	_, err := (*stdout).WriteString(data)
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	assert.Equal(t, data[:MaxCaptureSize], sink.Output())

	fi, err := os.Stat(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), fi.Size(), "full output stays on disk")
}

func TestFileSink_TruncatedMultiByte(t *testing.T) {
	sink, stdout, _, _ := newTestFileSink(t)
	require.NoError(t, sink.Start())

	// limit falls in the middle of a two-byte rune
	data := strings.Repeat("a", MaxCaptureSize-1) + "é tail"
	_, err := (*stdout).WriteString(data)
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	assert.Equal(t, strings.Repeat("a", MaxCaptureSize-1), sink.Output())
}

func TestFileSink_StopTwice(t *testing.T) {
	sink, stdout, _, echo := newTestFileSink(t)
	require.NoError(t, sink.Start())
	_, err := (*stdout).WriteString("once")
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	require.NoError(t, sink.Stop())
	assert.Equal(t, "once", sink.Output())
	assert.Equal(t, "once", echo.String(), "echoed once")

	require.NoError(t, sink.Start(), "start after stop is a no-op")
	assert.Equal(t, "once", sink.Output())
}

func TestFileSink_StopConcurrent(t *testing.T) {
	sink, stdout, _, _ := newTestFileSink(t)
	orig := *stdout
	require.NoError(t, sink.Start())
	_, err := (*stdout).WriteString("concurrent")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sink.Stop())
		}()
	}
	wg.Wait()
	assert.Equal(t, "concurrent", sink.Output())
	assert.Same(t, orig, *stdout)
}

func TestFileSink_StartFailed(t *testing.T) {
	streams, stdout, _ := testStreams(t)
	orig := *stdout
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0o600))

	sink := NewFileSink(FileParams{AppPath: blocker, LogFileName: "logs/stdout", Streams: streams})
	err := sink.Start()
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "make log directory", se.Op)
	assert.Same(t, orig, *stdout, "streams untouched")
	require.NoError(t, sink.Stop())
	assert.Empty(t, sink.Output())
}

func TestFileSink_Worker(t *testing.T) {
	skipWithoutShell(t)
	sink, stdout, stderr, _ := newTestFileSink(t)
	require.NoError(t, sink.Start())

	cmd := exec.Command("sh", "-c", `printf 'hello\n'; printf 'oops\n' >&2`)
	cmd.Stdout, cmd.Stderr = *stdout, *stderr
	require.NoError(t, cmd.Run())

	require.NoError(t, sink.Stop())
	assert.Equal(t, "hello\noops\n", sink.Output())
}

func TestFileSink_SilentWorker(t *testing.T) {
	skipWithoutShell(t)
	sink, stdout, stderr, _ := newTestFileSink(t)
	sink.LogFileName = "stdout"
	require.NoError(t, sink.Start())
	assert.True(t, strings.HasPrefix(filepath.Base(sink.Path()), "stdout_"))

	cmd := exec.Command("sh", "-c", "exit 0")
	cmd.Stdout, cmd.Stderr = *stdout, *stderr
	require.NoError(t, cmd.Run())

	require.NoError(t, sink.Stop())
	assert.Empty(t, sink.Output())
	assert.Empty(t, logFiles(t, sink.AppPath))
}

func TestFileSink_String(t *testing.T) {
	sink := NewFileSink(FileParams{AppPath: "/srv/app", LogFileName: "logs/stdout"})
	assert.Equal(t, "file:"+filepath.Join("/srv/app", "logs/stdout"), sink.String())
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 11, 22, 13, 5, 9, 0, time.UTC)
	assert.Equal(t, "/a/stdout_20241122130509_123_app.log", fileName("/a/stdout", ts, 123, "app"))
}
