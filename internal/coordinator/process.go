package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"netfuzz/config"
	"netfuzz/internal/stats"
	"netfuzz/internal/types"
	"netfuzz/pkg/telemetry"

	"go.uber.org/zap"
)

const (
	WorkerBinName = "netfuzz-worker"
	// the stats pipe is the first entry of ExtraFiles
	statsFD = 3
	// how long a worker gets to exit after the interrupt
	stopGrace = 5 * time.Second
)

// ResolveWorkerBin finds the worker executable: the configured path, or
// netfuzz-worker next to the running binary, or on PATH.
func ResolveWorkerBin(configured string) (string, error) {
	if configured != "" {
		return exec.LookPath(configured)
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), WorkerBinName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	return exec.LookPath(WorkerBinName)
}

type workerProcess struct {
	ident  config.WorkerIdentity
	bin    string
	trace  string // exported coordinator span
	logger *zap.Logger
}

// run starts the worker process, forwards its stats messages to sink and
// blocks until the process exits. A worker that fails is logged, never
// returned as an error: siblings keep running.
func (p *workerProcess) run(ctx context.Context, sink func(types.StatsMessage)) error {
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stats pipe: %w", err)
	}
	defer r.Close()

	ident := p.ident
	ident.StatsFD = statsFD
	cmd := exec.CommandContext(ctx, p.bin)
	cmd.Env = append(os.Environ(), ident.Environ()...)
	if p.trace != "" {
		cmd.Env = append(cmd.Env, telemetry.TraceContextEnv+"="+p.trace)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{w}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		w.Close()
		return fmt.Errorf("failed to start worker %d: %w", ident.ID, err)
	}
	// the child holds its own copy
	w.Close()
	p.logger.Info("worker started", zap.Int("pid", cmd.Process.Pid), zap.Int64("seed", ident.Seed))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		if err := stats.ReadMessages(r, sink); err != nil {
			p.logger.Warn("malformed stats stream", zap.Error(err))
		}
	}()

	err = cmd.Wait()
	<-readDone

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.logger.Info("worker exited")
	case ctx.Err() != nil:
		p.logger.Info("worker stopped", zap.Error(err))
	case errors.As(err, &exitErr):
		p.logger.Error("worker failed", zap.Int("exit_code", exitErr.ExitCode()), zap.Error(err))
	default:
		p.logger.Error("worker failed", zap.Error(err))
	}
	return nil
}
