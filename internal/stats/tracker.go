// Package stats keeps the per-worker iteration counters and decides when a
// worker reports them to the coordinator.
package stats

import (
	"fmt"
	"io"
	"time"

	"netfuzz/internal/types"
)

const DefaultInterval = 3 * time.Second

type Config struct {
	WorkerID int
	Interval time.Duration // minimum time between two reports
	Console  io.Writer     // when set, every report is also printed here (nofork mode)
	Now      func() time.Time
}

// Reporter delivers stats messages to the coordinator. Implementations must
// not block the caller.
type Reporter interface {
	Report(msg types.StatsMessage)
}

// IterationStats belongs to exactly one worker.
type IterationStats struct {
	IterationCount uint64
	CrashCount     uint64
	StartTime      time.Time
	LastReportTime time.Time
}

type Tracker struct {
	cfg      Config
	reporter Reporter
	stats    IterationStats
}

func NewTracker(cfg Config, reporter Reporter) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now()
	return &Tracker{
		cfg:      cfg,
		reporter: reporter,
		stats: IterationStats{
			StartTime:      now,
			LastReportTime: now,
		},
	}
}

// Start resets the clocks and emits the initial all-zero message.
func (t *Tracker) Start() {
	now := t.cfg.Now()
	t.stats.StartTime = now
	t.stats.LastReportTime = now
	t.reporter.Report(types.StatsMessage{WorkerID: t.cfg.WorkerID})
}

// Tick counts one iteration and reports when the interval has passed.
// It returns true when a message was emitted.
func (t *Tracker) Tick() bool {
	t.stats.IterationCount++

	now := t.cfg.Now()
	if now.Sub(t.stats.LastReportTime) <= t.cfg.Interval {
		return false
	}

	// average since the worker started, not since the last report
	elapsed := now.Sub(t.stats.StartTime).Seconds()
	perSec := 0.0
	if elapsed > 0 {
		perSec = float64(t.stats.IterationCount) / elapsed
	}
	msg := types.StatsMessage{
		WorkerID:            t.cfg.WorkerID,
		IterationsPerSecond: perSec,
		TotalCount:          t.stats.IterationCount,
		CrashCount:          t.stats.CrashCount,
	}
	t.reporter.Report(msg)
	if t.cfg.Console != nil {
		fmt.Fprintf(t.cfg.Console, "%d: %4.2f  %8d  %5d\n",
			msg.WorkerID, msg.IterationsPerSecond, msg.TotalCount, msg.CrashCount)
	}
	t.stats.LastReportTime = now
	return true
}

func (t *Tracker) RecordCrash() {
	t.stats.CrashCount++
}

func (t *Tracker) Stats() IterationStats {
	return t.stats
}
