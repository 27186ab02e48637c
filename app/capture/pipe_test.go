package capture

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func newTestPipeSink(t *testing.T) (sink *PipeSink, stdout, stderr **os.File) {
	t.Helper()
	streams, stdout, stderr := testStreams(t)
	sink = NewPipeSink(PipeParams{Encoding: unicode.UTF8, Streams: streams, JoinTimeout: 200 * time.Millisecond})
	return sink, stdout, stderr
}

func TestPipeSink_Capture(t *testing.T) {
	sink, stdout, stderr := newTestPipeSink(t)
	orig := *stderr
	require.NoError(t, sink.Start())
	require.NoError(t, sink.Start(), "second start is a no-op")
	assert.NotSame(t, orig, *stderr)

	_, err := (*stderr).WriteString("hello\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return sink.Output() == "hello\n" }, time.Second, 10*time.Millisecond,
		"snapshot available before stop")

	_, err = (*stdout).WriteString("bye\n")
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	assert.Same(t, orig, *stderr)
	assert.Equal(t, "hello\nbye\n", sink.Output())
	assert.Equal(t, int64(0), sink.Dropped())
	assert.Equal(t, "pipe", sink.String())
}

func TestPipeSink_Truncated(t *testing.T) {
	sink, stdout, _ := newTestPipeSink(t)
	require.NoError(t, sink.Start())

	// larger than the OS pipe buffer, returns only if the drain keeps reading past the limit
	data := strings.Repeat("x", 100000)
	_, err := (*stdout).WriteString(data)
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	assert.Equal(t, data[:MaxCaptureSize], sink.Output())
	assert.Equal(t, int64(100000-MaxCaptureSize), sink.Dropped())
}

func TestPipeSink_StopTwice(t *testing.T) {
	sink, stdout, _ := newTestPipeSink(t)
	require.NoError(t, sink.Start())
	_, err := (*stdout).WriteString("once")
	require.NoError(t, err)

	require.NoError(t, sink.Stop())
	require.NoError(t, sink.Stop())
	assert.Equal(t, "once", sink.Output())
}

func TestPipeSink_StopConcurrent(t *testing.T) {
	sink, stdout, _ := newTestPipeSink(t)
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

func TestPipeSink_Worker(t *testing.T) {
	skipWithoutShell(t)
	sink, stdout, stderr := newTestPipeSink(t)
	require.NoError(t, sink.Start())

	cmd := exec.Command("sh", "-c", `printf 'hello\n' >&2`)
	cmd.Stdout, cmd.Stderr = *stdout, *stderr
	require.NoError(t, cmd.Run())

	require.NoError(t, sink.Stop())
	assert.Equal(t, "hello\n", sink.Output())
}

func TestPipeSink_WorkerFlood(t *testing.T) {
	skipWithoutShell(t)
	sink, stdout, stderr := newTestPipeSink(t)
	require.NoError(t, sink.Start())

	cmd := exec.Command("sh", "-c", `i=0; while [ $i -lt 2000 ]; do printf '%s\n' 0123456789012345678901234567890123456789012345678; i=$((i+1)); done`)
	cmd.Stdout, cmd.Stderr = *stdout, *stderr
	require.NoError(t, cmd.Run(), "worker never blocks on a full pipe")

	require.NoError(t, sink.Stop())
	assert.Len(t, sink.Output(), MaxCaptureSize)
	assert.Equal(t, int64(2000*50-MaxCaptureSize), sink.Dropped())
}

func TestPipeSink_StopWithRunningWorker(t *testing.T) {
	skipWithoutShell(t)
	sink, stdout, stderr := newTestPipeSink(t)
	require.NoError(t, sink.Start())

	cmd := exec.Command("sh", "-c", `printf 'partial'; exec sleep 5`)
	cmd.Stdout, cmd.Stderr = *stdout, *stderr
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	require.Eventually(t, func() bool { return sink.Output() == "partial" }, 2*time.Second, 10*time.Millisecond)

	st := time.Now()
	require.NoError(t, sink.Stop())
	assert.Less(t, time.Since(st), 2*time.Second, "stop bounded by join timeout")
	assert.Equal(t, "partial", sink.Output())
}
