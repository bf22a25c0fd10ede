package main

import (
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/fatih/color"
)

// Reporter renders per-syscall progress and the final summary. It is purely
// presentational: nothing in the engine depends on it.
type Reporter struct {
	out io.Writer

	green  func(a ...interface{}) string
	red    func(a ...interface{}) string
	yellow func(a ...interface{}) string
	bold   func(a ...interface{}) string
}

// NewReporter builds a reporter writing to out. Color is controlled globally
// through color.NoColor, which main wires to the --no-color flag and TTY
// detection.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{
		out:    out,
		green:  color.New(color.FgGreen).SprintFunc(),
		red:    color.New(color.FgRed).SprintFunc(),
		yellow: color.New(color.FgYellow).SprintFunc(),
		bold:   color.New(color.Bold).SprintFunc(),
	}
}

// Progress prints one classification line.
func (r *Reporter) Progress(index, total int, syscall string, verdict Verdict, outcome Outcome) {
	var verdictText string
	switch verdict {
	case VerdictRemovable:
		verdictText = r.green("removable")
	default:
		verdictText = r.red("necessary")
	}

	line := fmt.Sprintf("[%d/%d] %-24s %s", index, total, syscall, verdictText)
	if verdict == VerdictNecessary && outcome != OutcomeFunctionalityPassed {
		line += fmt.Sprintf("  (%s)", r.outcomeText(outcome))
	}
	fmt.Fprintln(r.out, line)
}

func (r *Reporter) outcomeText(outcome Outcome) string {
	switch outcome {
	case OutcomeStartupFailed:
		return "startup failed"
	case OutcomeStartupCrashed:
		return r.yellow("crashed during settle")
	case OutcomeFunctionalityFailed:
		return "probe failed"
	case OutcomeOperationError:
		return r.yellow("operation error")
	default:
		return string(outcome)
	}
}

// Summary prints the final report for a completed run.
func (r *Reporter) Summary(report *Report) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.bold("Minimization complete"))
	fmt.Fprintf(r.out, "  Catalog:    %d syscalls\n", report.CatalogSize)
	fmt.Fprintf(r.out, "  Tested:     %d", report.TestedCount)
	if report.SkippedCount > 0 {
		fmt.Fprintf(r.out, " (%d resumed from journal)", report.SkippedCount)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "  Removed:    %s\n", r.green(fmt.Sprintf("%d", report.RemovedCount)))
	fmt.Fprintf(r.out, "  Necessary:  %s\n", r.red(fmt.Sprintf("%d", len(report.Necessary))))
	fmt.Fprintf(r.out, "  Elapsed:    %s\n", units.HumanDuration(report.Elapsed))
	fmt.Fprintf(r.out, "  Artifact:   %s\n", report.MinimizedPath)
	if report.Digest != "" {
		fmt.Fprintf(r.out, "  Digest:     %s\n", report.Digest)
	}

	if report.Stats != nil {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.bold("Failure breakdown"))
		fmt.Fprintf(r.out, "  Startup failures:  %d\n", report.Stats.StartupFailures)
		fmt.Fprintf(r.out, "  Startup crashes:   %d\n", report.Stats.StartupCrashes)
		fmt.Fprintf(r.out, "  Probe failures:    %d\n", report.Stats.ProbeFailures)
		fmt.Fprintf(r.out, "  Operation errors:  %d\n", report.Stats.OperationErrors)
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.bold("Necessary syscalls"))
	for _, name := range report.Necessary {
		fmt.Fprintf(r.out, "  %s\n", name)
	}
}

// CatalogListing prints the syscall catalog of a profile, one per line.
func (r *Reporter) CatalogListing(path string, names []string) {
	fmt.Fprintf(r.out, "%s (%d syscalls)\n", r.bold(path), len(names))
	for _, name := range names {
		fmt.Fprintf(r.out, "  %s\n", name)
	}
}

// CheckReport prints the outcome of a profile check. Structural validation
// already passed by the time this is called; only the name lint can degrade
// the result.
func (r *Reporter) CheckReport(path string, profile *Profile, names, unknown []string) {
	fmt.Fprintf(r.out, "%s: %s\n", r.bold(path), r.green("valid"))
	fmt.Fprintf(r.out, "  Default action: %s\n", profile.DefaultAction)
	fmt.Fprintf(r.out, "  Rule groups:    %d\n", len(profile.Syscalls))
	fmt.Fprintf(r.out, "  Syscalls:       %d\n", len(names))

	switch {
	case !nameLintAvailable:
		fmt.Fprintf(r.out, "  Name lint:      %s\n", r.yellow("skipped (built without libseccomp)"))
	case len(unknown) == 0:
		fmt.Fprintf(r.out, "  Name lint:      %s\n", r.green("all names known to this host"))
	default:
		fmt.Fprintf(r.out, "  Name lint:      %s\n", r.yellow(fmt.Sprintf("%d unknown", len(unknown))))
		for _, name := range unknown {
			fmt.Fprintf(r.out, "    %s\n", r.yellow(name))
		}
	}
}
