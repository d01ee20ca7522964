package target

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func run(t *testing.T, body string, timeout time.Duration) Result {
	t.Helper()
	e, err := NewClientExecutor(script(t, body), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background()))
	return e.Wait(timeout)
}

func TestCleanExit(t *testing.T) {
	res := run(t, "exit 0", 5*time.Second)
	assert.False(t, res.Crashed())
	assert.Equal(t, 0, res.Outcome.ExitCode)
	assert.Equal(t, 0, res.Outcome.Signal)
	assert.True(t, res.Outcome.ReallyDead)
	assert.NotZero(t, res.Outcome.ServerPID)
}

func TestExitCode(t *testing.T) {
	res := run(t, "exit 7", 5*time.Second)
	assert.False(t, res.Crashed())
	assert.Equal(t, 7, res.Outcome.ExitCode)
}

func TestSignalIsCrash(t *testing.T) {
	res := run(t, `echo "==1==ERROR: AddressSanitizer: boom" >&2; echo "$ASAN_OPTIONS" >&2; kill -ABRT $$`, 5*time.Second)
	require.True(t, res.Crashed())
	assert.Equal(t, int(syscall.SIGABRT), res.Outcome.Signal)
	assert.Equal(t, -1, res.Outcome.ExitCode)
	assert.True(t, res.Outcome.ReallyDead)
	assert.Contains(t, res.AnalyzerOutput, "AddressSanitizer")
	assert.Contains(t, res.AnalyzerOutput, asanAbortOption)
}

func TestTimeoutIsNotCrash(t *testing.T) {
	start := time.Now()
	res := run(t, "sleep 30", 200*time.Millisecond)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, res.TimedOut)
	assert.Equal(t, int(syscall.SIGKILL), res.Outcome.Signal)
	assert.False(t, res.Crashed())
}

func TestWaitWithoutExecute(t *testing.T) {
	e, err := NewClientExecutor(script(t, "exit 0"), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Result{}, e.Wait(time.Second))
}

func TestMissingBinary(t *testing.T) {
	_, err := NewClientExecutor(filepath.Join(t.TempDir(), "nope"), nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestTargetEnv(t *testing.T) {
	assert.Contains(t, targetEnv([]string{"PATH=/bin"}), "ASAN_OPTIONS=abort_on_error=1")
	assert.Equal(t, []string{"ASAN_OPTIONS=detect_leaks=0:abort_on_error=1"},
		targetEnv([]string{"ASAN_OPTIONS=detect_leaks=0"}))
	assert.Equal(t, []string{"ASAN_OPTIONS=abort_on_error=1"},
		targetEnv([]string{"ASAN_OPTIONS=abort_on_error=1"}))
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}

func TestOutcomeWithoutState(t *testing.T) {
	outcome := outcomeOf(nil, 42)
	assert.Equal(t, 42, outcome.ServerPID)
	assert.Equal(t, -1, outcome.ExitCode)
	assert.False(t, outcome.ReallyDead)
}
