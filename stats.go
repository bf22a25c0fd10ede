package main

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// RunStats accumulates counters across one minimization run. The engine is
// single-threaded but the signal handler may snapshot concurrently, so the
// counters stay atomic.
type RunStats struct {
	tested          int64
	necessary       int64
	removable       int64
	startupFailures int64
	startupCrashes  int64
	probeFailures   int64
	operationErrors int64
	resumedSkips    int64

	startedAt time.Time
}

// RunStatsSnapshot is the exportable view of the counters.
type RunStatsSnapshot struct {
	Timestamp       time.Time     `json:"timestamp"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	Tested          int64         `json:"tested"`
	Necessary       int64         `json:"necessary"`
	Removable       int64         `json:"removable"`
	StartupFailures int64         `json:"startup_failures"`
	StartupCrashes  int64         `json:"startup_crashes"`
	ProbeFailures   int64         `json:"probe_failures"`
	OperationErrors int64         `json:"operation_errors"`
	ResumedSkips    int64         `json:"resumed_skips"`
}

// NewRunStats creates a stats accumulator anchored at the current time.
func NewRunStats() *RunStats {
	return &RunStats{startedAt: time.Now()}
}

func (rs *RunStats) IncrementTested() {
	atomic.AddInt64(&rs.tested, 1)
}

func (rs *RunStats) IncrementNecessary() {
	atomic.AddInt64(&rs.necessary, 1)
}

func (rs *RunStats) IncrementRemovable() {
	atomic.AddInt64(&rs.removable, 1)
}

func (rs *RunStats) IncrementStartupFailures() {
	atomic.AddInt64(&rs.startupFailures, 1)
}

func (rs *RunStats) IncrementStartupCrashes() {
	atomic.AddInt64(&rs.startupCrashes, 1)
}

func (rs *RunStats) IncrementProbeFailures() {
	atomic.AddInt64(&rs.probeFailures, 1)
}

func (rs *RunStats) IncrementOperationErrors() {
	atomic.AddInt64(&rs.operationErrors, 1)
}

func (rs *RunStats) IncrementResumedSkips() {
	atomic.AddInt64(&rs.resumedSkips, 1)
}

// Elapsed returns the wall-clock duration since the run started.
func (rs *RunStats) Elapsed() time.Duration {
	return time.Since(rs.startedAt)
}

// Snapshot returns the current counter values.
func (rs *RunStats) Snapshot() *RunStatsSnapshot {
	return &RunStatsSnapshot{
		Timestamp:       time.Now(),
		Elapsed:         rs.Elapsed(),
		Tested:          atomic.LoadInt64(&rs.tested),
		Necessary:       atomic.LoadInt64(&rs.necessary),
		Removable:       atomic.LoadInt64(&rs.removable),
		StartupFailures: atomic.LoadInt64(&rs.startupFailures),
		StartupCrashes:  atomic.LoadInt64(&rs.startupCrashes),
		ProbeFailures:   atomic.LoadInt64(&rs.probeFailures),
		OperationErrors: atomic.LoadInt64(&rs.operationErrors),
		ResumedSkips:    atomic.LoadInt64(&rs.resumedSkips),
	}
}

// WriteFile exports a snapshot as indented JSON.
func (rs *RunStats) WriteFile(path string) error {
	data, err := json.MarshalIndent(rs.Snapshot(), "", "  ")
	if err != nil {
		return WrapStateError(path, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data, 0644); err != nil {
		return WrapStateError(path, err)
	}
	return nil
}
