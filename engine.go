package main

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Outcome is the observed result of testing one candidate profile. The
// operation_error outcome covers unexpected failures (exec errors, malformed
// inspect output, file I/O) that trigger the fail-safe rule.
type Outcome string

const (
	OutcomeStartupFailed       Outcome = "startup_failed"
	OutcomeStartupCrashed      Outcome = "startup_crashed"
	OutcomeFunctionalityFailed Outcome = "functionality_failed"
	OutcomeFunctionalityPassed Outcome = "functionality_passed"
	OutcomeOperationError      Outcome = "operation_error"
)

// Verdict is the engine's classification of one syscall.
type Verdict string

const (
	VerdictNecessary Verdict = "necessary"
	VerdictRemovable Verdict = "removable"
)

// ProgressFunc receives one notification per classified syscall.
type ProgressFunc func(index, total int, syscall string, verdict Verdict, outcome Outcome)

// Engine owns the greedy search over the syscall catalog. For each syscall it
// derives a candidate profile with that syscall removed, drives the harness
// and the probe against it, and either commits the removal to the working
// profile or records the syscall as necessary. Classifications are final:
// there is no retry and no backtracking.
type Engine struct {
	cfg       *Config
	harness   Harness
	prober    Prober
	artifacts *ArtifactManager
	stats     *RunStats
	resume    bool
	progress  ProgressFunc

	working   *Profile
	necessary map[string]struct{}
	state     *RunState
}

// Report summarizes a completed run.
type Report struct {
	Necessary     []string
	CatalogSize   int
	TestedCount   int
	SkippedCount  int
	RemovedCount  int
	MinimizedPath string
	Digest        string
	Elapsed       time.Duration
	Stats         *RunStatsSnapshot
}

// NewEngine assembles an engine. The progress callback may be nil.
func NewEngine(cfg *Config, harness Harness, prober Prober, artifacts *ArtifactManager, stats *RunStats, resume bool, progress ProgressFunc) *Engine {
	return &Engine{
		cfg:       cfg,
		harness:   harness,
		prober:    prober,
		artifacts: artifacts,
		stats:     stats,
		resume:    resume,
		progress:  progress,
		necessary: make(map[string]struct{}),
	}
}

// Run executes the full minimization. The source profile load is the only
// fatal error class once the environment is up; every per-syscall failure is
// absorbed by the fail-safe rule. On interrupt the working profile and the
// journal reflect all confirmed progress, but no minimized artifact is
// written.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	logger := Logger(ctx).With("component", "engine")

	// A leftover instance from a prior run could satisfy the probe and fake
	// a removable verdict, so the namespace is swept before anything else.
	if err := e.harness.StopAll(ctx); err != nil {
		return nil, err
	}

	sourcePath := e.artifacts.SourcePath()
	source, err := LoadProfile(sourcePath)
	if err != nil {
		return nil, err
	}

	digest, err := profileDigest(sourcePath)
	if err != nil {
		return nil, err
	}

	e.working = source.Clone()
	e.prepareState(ctx, digest)

	catalog := source.AllSyscalls()
	logger.Info("Catalog enumerated", "source", sourcePath, "syscalls", len(catalog))

	skipped := e.replayJournal(ctx, catalog)

	if err := e.working.Save(e.artifacts.WorkingPath()); err != nil {
		return nil, err
	}

	for i, name := range catalog {
		if ctx.Err() != nil {
			return nil, e.interrupted(ctx, len(catalog)-i)
		}
		if _, done := e.state.Classified(name); done {
			continue
		}

		verdict, outcome := e.testSyscall(ctx, name)
		if ctx.Err() != nil {
			// A cancellation mid-test yields partial evidence; the syscall
			// stays unclassified for a future resume.
			return nil, e.interrupted(ctx, len(catalog)-i)
		}

		e.state.Record(name, verdict, outcome)
		if err := e.state.Save(); err != nil {
			logger.Warn("Failed to persist run state", "error", err)
		}
		e.recordStats(verdict, outcome)

		logger.Info("Syscall classified",
			"syscall", name,
			"verdict", verdict,
			"outcome", outcome,
			"progress", i+1,
			"total", len(catalog))
		if e.progress != nil {
			e.progress(i+1, len(catalog), name, verdict, outcome)
		}
	}

	return e.finish(ctx, catalog, skipped)
}

// testSyscall runs the per-syscall state machine: derive candidate, start,
// await, probe. Every error path classifies the syscall as necessary and
// leaves the working profile untouched.
func (e *Engine) testSyscall(ctx context.Context, name string) (Verdict, Outcome) {
	logger := Logger(ctx).With("component", "engine", "syscall", name)

	candidate := e.working.WithSyscallRemoved(name)

	candidatePath, err := e.artifacts.WriteCandidate(candidate, name)
	if err != nil {
		logger.Error("Failed to write candidate profile", "error", err)
		return VerdictNecessary, e.markNecessary(name, OutcomeOperationError)
	}
	defer func() {
		if err := e.artifacts.RemoveCandidate(candidatePath); err != nil {
			logger.Warn("Failed to remove candidate profile", "error", err)
		}
	}()

	outcome := e.testCandidate(ctx, candidatePath)

	if outcome != OutcomeFunctionalityPassed {
		return VerdictNecessary, e.markNecessary(name, outcome)
	}

	// Commit: the candidate becomes the working profile. A failed persist
	// falls back to necessary, so the on-disk working profile and the
	// in-memory one never diverge.
	if err := candidate.Save(e.artifacts.WorkingPath()); err != nil {
		logger.Error("Failed to commit working profile", "error", err)
		return VerdictNecessary, e.markNecessary(name, OutcomeOperationError)
	}
	e.working = candidate

	return VerdictRemovable, OutcomeFunctionalityPassed
}

// testCandidate drives one full harness/probe cycle under the candidate
// profile and maps every result onto an outcome.
func (e *Engine) testCandidate(ctx context.Context, candidatePath string) Outcome {
	logger := Logger(ctx).With("component", "engine")

	inst, err := e.harness.Start(ctx, candidatePath)
	if err != nil {
		if IsErrorCode(err, ErrStartupFailed) {
			logger.Debug("Launch rejected under candidate profile", "error", err)
			return OutcomeStartupFailed
		}
		logger.Warn("Unexpected launch failure", "error", err)
		return OutcomeOperationError
	}

	defer func() {
		if err := e.harness.Stop(ctx, inst); err != nil {
			// Stop failures do not affect classification correctness, only
			// resource hygiene. The next start quiesces again anyway.
			logger.Warn("Failed to stop instance", "id", shortID(inst.ID), "error", err)
		}
	}()

	if err := e.harness.AwaitRunning(ctx, inst); err != nil {
		if IsErrorCode(err, ErrStartupCrashed) {
			logger.Info("Instance crashed during settle delay",
				"id", shortID(inst.ID),
				"logs", tailLines(inst.Diagnostics, 20))
			return OutcomeStartupCrashed
		}
		logger.Warn("Unexpected liveness failure", "error", err)
		return OutcomeOperationError
	}

	if err := e.prober.Probe(ctx); err != nil {
		if IsErrorCode(err, ErrFunctionality) {
			logger.Debug("Functionality probe failed under candidate profile", "error", err)
			return OutcomeFunctionalityFailed
		}
		logger.Warn("Unexpected probe failure", "error", err)
		return OutcomeOperationError
	}

	return OutcomeFunctionalityPassed
}

// markNecessary adds a syscall to the necessary set and passes the outcome
// through.
func (e *Engine) markNecessary(name string, outcome Outcome) Outcome {
	e.necessary[name] = struct{}{}
	return outcome
}

// prepareState loads the resume journal when requested and the source digest
// still matches; otherwise it starts a fresh journal.
func (e *Engine) prepareState(ctx context.Context, digest string) {
	logger := Logger(ctx).With("component", "engine")
	statePath := e.artifacts.StatePath()

	if e.resume {
		loaded, err := LoadRunState(statePath)
		switch {
		case err == nil && loaded.SourceDigest == digest:
			logger.Info("Resuming from journal", "path", statePath, "classified", loaded.Len())
			e.state = loaded
			return
		case err == nil:
			logger.Warn("Source profile changed since journal was written, starting fresh",
				"path", statePath,
				"journal_digest", loaded.SourceDigest,
				"source_digest", digest)
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("No journal to resume from, starting fresh", "path", statePath)
		default:
			logger.Warn("Failed to load journal, starting fresh", "path", statePath, "error", err)
		}
	}

	e.state = NewRunState(statePath, digest)
}

// replayJournal re-applies journaled verdicts onto the fresh working copy so
// a resumed run continues exactly where the interrupted one stopped.
func (e *Engine) replayJournal(ctx context.Context, catalog []string) int {
	if e.state.Len() == 0 {
		return 0
	}

	replayed := 0
	for _, name := range catalog {
		entry, ok := e.state.Classified(name)
		if !ok {
			continue
		}
		switch entry.Verdict {
		case VerdictRemovable:
			e.working = e.working.WithSyscallRemoved(name)
		default:
			e.necessary[name] = struct{}{}
		}
		e.stats.IncrementResumedSkips()
		replayed++
	}

	Logger(ctx).Info("Replayed journaled verdicts", "count", replayed)
	return replayed
}

// recordStats folds one classification into the counters.
func (e *Engine) recordStats(verdict Verdict, outcome Outcome) {
	e.stats.IncrementTested()

	if verdict == VerdictRemovable {
		e.stats.IncrementRemovable()
	} else {
		e.stats.IncrementNecessary()
	}

	switch outcome {
	case OutcomeStartupFailed:
		e.stats.IncrementStartupFailures()
	case OutcomeStartupCrashed:
		e.stats.IncrementStartupCrashes()
	case OutcomeFunctionalityFailed:
		e.stats.IncrementProbeFailures()
	case OutcomeOperationError:
		e.stats.IncrementOperationErrors()
	}
}

// interrupted persists what the run has learned and reports the abort. The
// working profile already reflects every confirmed removal; the minimized
// artifact is deliberately not written for a partial run.
func (e *Engine) interrupted(ctx context.Context, remaining int) error {
	logger := Logger(ctx).With("component", "engine")

	if err := e.state.Save(); err != nil {
		logger.Warn("Failed to persist run state on interrupt", "error", err)
	}

	return NewTrimError(ErrInterrupted, "minimization interrupted").
		WithContext("remaining", remaining).
		WithContext("classified", e.state.Len()).
		WithComponent("engine")
}

// finish writes the minimized artifact, clears the journal, and assembles
// the report.
func (e *Engine) finish(ctx context.Context, catalog []string, skipped int) (*Report, error) {
	logger := Logger(ctx).With("component", "engine")

	minimizedPath := e.artifacts.MinimizedPath()
	if err := e.working.Save(minimizedPath); err != nil {
		return nil, err
	}

	digest, err := profileDigest(minimizedPath)
	if err != nil {
		logger.Warn("Failed to digest minimized profile", "error", err)
		digest = ""
	}

	if err := e.state.Remove(); err != nil {
		logger.Warn("Failed to remove completed journal", "error", err)
	}

	if err := e.harness.StopAll(ctx); err != nil {
		logger.Warn("Final sweep failed", "error", err)
	}

	report := &Report{
		Necessary:     e.NecessaryList(),
		CatalogSize:   len(catalog),
		TestedCount:   len(catalog) - skipped,
		SkippedCount:  skipped,
		RemovedCount:  len(catalog) - len(e.necessary),
		MinimizedPath: minimizedPath,
		Digest:        digest,
		Elapsed:       e.stats.Elapsed(),
		Stats:         e.stats.Snapshot(),
	}

	logger.Info("Minimization complete",
		"catalog", report.CatalogSize,
		"necessary", len(report.Necessary),
		"removed", report.RemovedCount,
		"artifact", report.MinimizedPath)

	return report, nil
}

// NecessaryList returns the necessary set in sorted order.
func (e *Engine) NecessaryList() []string {
	names := make([]string, 0, len(e.necessary))
	for name := range e.necessary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// tailLines returns the last n lines of s for compact diagnostic logging.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
