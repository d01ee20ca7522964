package target

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"netfuzz/internal/types"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	maxAnalyzerOutput = 1 << 20 // sanitizer reports beyond this are truncated
	asanAbortOption   = "abort_on_error=1"
)

var ErrNotStarted = errors.New("target not started")

// Executor runs the target client for one iteration.
type Executor interface {
	// Execute launches the target without waiting for it.
	Execute(ctx context.Context) error
	// Wait blocks until the target exits or timeout elapses, in which case the
	// whole process group is killed.
	Wait(timeout time.Duration) Result
}

type Result struct {
	Outcome        types.ProcessOutcome
	AnalyzerOutput string
	TimedOut       bool
}

// Crashed reports a signal death that was not caused by our own timeout kill.
func (r Result) Crashed() bool {
	return r.Outcome.Crashed() && !r.TimedOut
}

type ClientExecutor struct {
	bin    string
	args   []string
	env    []string
	logger *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stderr *limitedBuffer
	done   chan struct{}
}

// NewClientExecutor resolves bin once. A target that cannot be found is a
// startup failure, not a per-iteration one.
func NewClientExecutor(bin string, args []string, logger *zap.Logger) (*ClientExecutor, error) {
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("target binary %s not usable: %w", bin, err)
	}
	return &ClientExecutor{
		bin:    resolved,
		args:   args,
		env:    targetEnv(os.Environ()),
		logger: logger,
	}, nil
}

// targetEnv makes ASan abort on the first error so crashes surface as signals.
func targetEnv(environ []string) []string {
	env := make([]string, 0, len(environ)+1)
	found := false
	for _, kv := range environ {
		if opts, ok := strings.CutPrefix(kv, "ASAN_OPTIONS="); ok {
			found = true
			if opts == "" {
				kv = "ASAN_OPTIONS=" + asanAbortOption
			} else if !strings.Contains(opts, asanAbortOption) {
				kv = kv + ":" + asanAbortOption
			}
		}
		env = append(env, kv)
	}
	if !found {
		env = append(env, "ASAN_OPTIONS="+asanAbortOption)
	}
	return env
}

func (e *ClientExecutor) Execute(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.bin, e.args...)
	cmd.Env = e.env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	// children that inherit stderr must not hold up Wait
	cmd.WaitDelay = time.Second
	stderr := &limitedBuffer{limit: maxAnalyzerOutput}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start target: %w", err)
	}
	e.logger.Debug("target started", zap.String("command", cmd.String()), zap.Int("pid", cmd.Process.Pid))

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait() // exit status is read from ProcessState
		close(done)
	}()

	e.mu.Lock()
	e.cmd, e.stderr, e.done = cmd, stderr, done
	e.mu.Unlock()
	return nil
}

func (e *ClientExecutor) Wait(timeout time.Duration) Result {
	e.mu.Lock()
	cmd, stderr, done := e.cmd, e.stderr, e.done
	e.cmd, e.stderr, e.done = nil, nil, nil
	e.mu.Unlock()

	if cmd == nil {
		e.logger.Warn("wait without running target", zap.Error(ErrNotStarted))
		return Result{}
	}

	pid := cmd.Process.Pid
	timedOut := false
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		if err := killGroup(pid); err != nil {
			e.logger.Warn("failed to kill target", zap.Int("pid", pid), zap.Error(err))
		}
		<-done
	}

	result := Result{
		Outcome:        outcomeOf(cmd.ProcessState, pid),
		AnalyzerOutput: stderr.String(),
		TimedOut:       timedOut,
	}
	e.logger.Debug("target finished",
		zap.Int("pid", pid),
		zap.Int("exit_code", result.Outcome.ExitCode),
		zap.String("signal", unix.SignalName(syscall.Signal(result.Outcome.Signal))),
		zap.Bool("timed_out", timedOut))
	return result
}

func outcomeOf(state *os.ProcessState, pid int) types.ProcessOutcome {
	outcome := types.ProcessOutcome{ServerPID: pid, ExitCode: -1}
	if state == nil {
		return outcome
	}
	outcome.ExitCode = state.ExitCode()
	signaled := false
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signaled = true
		outcome.Signal = int(ws.Signal())
	}
	// a stopped or continued state is not a termination
	outcome.ReallyDead = state.Exited() || signaled
	return outcome
}

func killGroup(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// limitedBuffer keeps the first limit bytes and silently drops the rest so
// the target never blocks on a full stderr pipe.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
