package capture

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu        sync.Mutex
	warns     []string
	warnErrs  []error
	unhandled []error
}

func (r *recordingReporter) Warn(msg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
	r.warnErrs = append(r.warnErrs, err)
}

func (r *recordingReporter) Unhandled(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhandled = append(r.unhandled, err)
}

type failingSink struct {
	DiscardSink
	startErr error
	stopErr  error
	panicMsg string
}

func (f *failingSink) Start() error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.startErr
}

func (f *failingSink) Stop() error { return f.stopErr }

func TestInvoke_Success(t *testing.T) {
	rep := &recordingReporter{}
	StartRedirection(&DiscardSink{}, rep)
	StopRedirection(&DiscardSink{}, rep)
	assert.Empty(t, rep.warns)
	assert.Empty(t, rep.unhandled)
}

func TestInvoke_StatusError(t *testing.T) {
	rep := &recordingReporter{}
	sink := &failingSink{startErr: newStatusError("create log file", errors.New("access denied"))}
	StartRedirection(sink, rep)

	require.Len(t, rep.warns, 1)
	assert.Equal(t, "failed to start stdout redirection", rep.warns[0])
	var se *StatusError
	require.True(t, errors.As(rep.warnErrs[0], &se))
	assert.Equal(t, "create log file", se.Op)
	assert.Empty(t, rep.unhandled)
}

func TestInvoke_JoinedStatusError(t *testing.T) {
	rep := &recordingReporter{}
	sink := &failingSink{stopErr: errors.Join(newStatusError("restore stdout", errors.New("bad handle")))}
	StopRedirection(sink, rep)

	require.Len(t, rep.warns, 1)
	assert.Equal(t, "failed to stop stdout redirection", rep.warns[0])
	assert.Empty(t, rep.unhandled)
}

func TestInvoke_OtherError(t *testing.T) {
	rep := &recordingReporter{}
	StartRedirection(&failingSink{startErr: errors.New("something else")}, rep)
	assert.Empty(t, rep.warns)
	require.Len(t, rep.unhandled, 1)
	assert.EqualError(t, rep.unhandled[0], "something else")
}

func TestInvoke_Panic(t *testing.T) {
	rep := &recordingReporter{}
	assert.NotPanics(t, func() { StartRedirection(&failingSink{panicMsg: "boom"}, rep) })
	require.Len(t, rep.unhandled, 1)
	assert.Contains(t, rep.unhandled[0].Error(), "boom")
	assert.Contains(t, rep.unhandled[0].Error(), "failed to start stdout redirection")
}

func TestInvoke_NilSinkAndReporter(t *testing.T) {
	assert.NotPanics(t, func() { StartRedirection(nil, nil) })
	assert.NotPanics(t, func() {
		StopRedirection(&failingSink{stopErr: newStatusError("close pipe", errors.New("closed"))}, nil)
	})
}
