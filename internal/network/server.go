package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"netfuzz/internal/target"
	"netfuzz/internal/types"

	"go.uber.org/zap"
)

const maxResponse = 1 << 20

// ServerManager owns the listener the target client connects to.
type ServerManager interface {
	Start(ctx context.Context) bool
	SetFuzzData(record *types.IterationRecord)
	HandleConnection(ctx context.Context) *Outcome
	Stop()
}

// Outcome of one served iteration. Record is the iteration that was served,
// nil if no fuzz data was set.
type Outcome struct {
	Crashed        bool
	Record         *types.IterationRecord
	Process        types.ProcessOutcome
	AnalyzerOutput string
	Connected      bool
	TimedOut       bool
}

// Waiter is the part of the executor the server needs to collect the outcome.
type Waiter interface {
	Wait(timeout time.Duration) target.Result
}

type ServerConfig struct {
	Port           int
	StartDelay     time.Duration // wait after the listener is up
	ConnectTimeout time.Duration
	ProcessTimeout time.Duration
}

type TCPServer struct {
	cfg    ServerConfig
	waiter Waiter
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	record   *types.IterationRecord
}

func NewTCPServer(cfg ServerConfig, waiter Waiter, logger *zap.Logger) *TCPServer {
	return &TCPServer{
		cfg:    cfg,
		waiter: waiter,
		logger: logger.With(zap.Int("port", cfg.Port)),
	}
}

// Start binds 127.0.0.1:<port>. It returns false when the port cannot be bound.
func (s *TCPServer) Start(ctx context.Context) bool {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		s.logger.Error("failed to start server", zap.Error(err))
		return false
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	if s.cfg.StartDelay > 0 {
		select {
		case <-time.After(s.cfg.StartDelay):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Addr returns the bound address, nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) SetFuzzData(record *types.IterationRecord) {
	s.mu.Lock()
	s.record = record
	s.mu.Unlock()
}

// HandleConnection serves the current payload to one client connection and
// then waits for the target process to finish.
func (s *TCPServer) HandleConnection(ctx context.Context) *Outcome {
	s.mu.Lock()
	ln, record := s.listener, s.record
	s.mu.Unlock()

	outcome := &Outcome{Record: record}
	if ln != nil {
		outcome.Connected = s.serve(ctx, ln, record)
	}

	res := s.waiter.Wait(s.cfg.ProcessTimeout)
	outcome.Process = res.Outcome
	outcome.AnalyzerOutput = res.AnalyzerOutput
	outcome.TimedOut = res.TimedOut
	outcome.Crashed = res.Crashed()
	return outcome
}

func (s *TCPServer) serve(ctx context.Context, ln net.Listener, record *types.IterationRecord) bool {
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	}

	// unblock Accept and the transfer when the worker is interrupted
	done := make(chan struct{})
	defer close(done)
	var connMu sync.Mutex
	var conn net.Conn
	go func() {
		select {
		case <-ctx.Done():
			if tl, ok := ln.(*net.TCPListener); ok {
				_ = tl.SetDeadline(time.Now())
			}
			connMu.Lock()
			if conn != nil {
				_ = conn.SetDeadline(time.Now())
			}
			connMu.Unlock()
		case <-done:
		}
	}()

	c, err := ln.Accept()
	if err != nil {
		s.logger.Debug("no client connection", zap.Error(err))
		return false
	}
	defer c.Close()
	connMu.Lock()
	conn = c
	connMu.Unlock()
	if ctx.Err() != nil {
		return true
	}

	_ = c.SetDeadline(time.Now().Add(s.cfg.ProcessTimeout))
	if record != nil && len(record.Payload) > 0 {
		if _, err := c.Write(record.Payload); err != nil {
			s.logger.Debug("failed to send payload", zap.Error(err))
			return true
		}
	}
	n, err := io.Copy(io.Discard, io.LimitReader(c, maxResponse))
	if err != nil && !isTimeout(err) {
		s.logger.Debug("connection closed with error", zap.Error(err))
	}
	s.logger.Debug("connection finished", zap.Int64("received", n))
	return true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *TCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return
	}
	if err := s.listener.Close(); err != nil {
		s.logger.Warn("failed to close listener", zap.Error(err))
	}
	s.listener = nil
}
