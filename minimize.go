package main

import (
	"context"
	"os"

	"github.com/urfave/cli"
)

var minimizeCommand = cli.Command{
	Name:  "minimize",
	Usage: "test every syscall in the source profile and write the minimized result",
	Description: `Runs the full greedy minimization. Each syscall in the source profile is
removed in turn, the target is relaunched under the candidate profile, and the
functionality probe decides whether the removal sticks. The working profile is
rewritten after every confirmed removal, so an interrupted run loses nothing;
with --resume the journal replays finished verdicts and the run continues at
the first unclassified syscall.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "resume",
			Usage: "continue an interrupted run from its journal",
		},
		cli.BoolFlag{
			Name:  "keep-candidates",
			Usage: "retain per-syscall candidate files for debugging",
		},
		cli.BoolFlag{
			Name:  "skip-preflight",
			Usage: "skip the environment checks before the run",
		},
		cli.StringFlag{
			Name:  "stats-file",
			Usage: "write run counters as JSON to this path on completion",
		},
	},
	Action: func(c *cli.Context) error {
		ctx, cfg, err := setupContext(c)
		if err != nil {
			return err
		}
		if c.Bool("keep-candidates") {
			cfg.Artifacts.KeepCandidates = true
		}
		return runMinimize(ctx, cfg, minimizeOptions{
			resume:        c.Bool("resume"),
			skipPreflight: c.Bool("skip-preflight"),
			statsFile:     c.String("stats-file"),
		})
	},
}

type minimizeOptions struct {
	resume        bool
	skipPreflight bool
	statsFile     string
}

func runMinimize(ctx context.Context, cfg *Config, opts minimizeOptions) error {
	logger := Logger(ctx)

	artifacts, err := NewArtifactManager(cfg.Artifacts)
	if err != nil {
		return err
	}

	harness := NewDockerHarness(cfg)
	prober := NewHTTPProbe(cfg)

	if !opts.skipPreflight {
		if err := runPreflight(ctx, cfg, harness); err != nil {
			return err
		}
	}

	stats := NewRunStats()
	reporter := NewReporter(os.Stdout)
	engine := NewEngine(cfg, harness, prober, artifacts, stats, opts.resume, reporter.Progress)

	runCtx, cancel := NotifyShutdown(ctx)
	defer cancel()

	cleanup := NewCleanupManager(DefaultCleanupTimeout)
	cleanup.Register("stop-instances", func(cleanupCtx context.Context) error {
		return harness.StopAll(WithLogger(cleanupCtx, logger))
	})
	cleanup.Register("remove-candidates", func(context.Context) error {
		if errs := artifacts.RemoveTrackedCandidates(); len(errs) > 0 {
			return errs[0]
		}
		return nil
	})
	// Teardown runs with a fresh context: runCtx is already canceled on the
	// interrupt path.
	defer cleanup.Run(WithLogger(context.Background(), logger))

	report, err := engine.Run(runCtx)
	if err != nil {
		if IsErrorCode(err, ErrInterrupted) {
			return cli.NewExitError(err.Error(), 130)
		}
		return err
	}

	reporter.Summary(report)

	if opts.statsFile != "" {
		if err := stats.WriteFile(opts.statsFile); err != nil {
			logger.Warn("Failed to write stats file", "path", opts.statsFile, "error", err)
		}
	}

	return nil
}
