package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Syscall names come out of the profile document, which is operator-supplied
// input, so they are validated before ever becoming part of a filename.
var validSyscallName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ArtifactManager owns the workdir and every profile artifact a run touches.
// Candidate files are tracked so an interrupted run can delete the ones it
// created.
type ArtifactManager struct {
	workdir        string
	sourcePath     string
	workingPath    string
	minimizedPath  string
	statePath      string
	keepCandidates bool

	mu      sync.Mutex
	tracked map[string]struct{}
}

// NewArtifactManager resolves the workdir and artifact paths from the
// configuration and ensures the workdir exists.
func NewArtifactManager(cfg ArtifactConfig) (*ArtifactManager, error) {
	workdir, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return nil, NewTrimErrorWithCause(ErrProfileIO,
			"failed to resolve workdir", err).
			WithContext("workdir", cfg.Workdir).
			WithComponent("artifacts")
	}

	if err := os.MkdirAll(workdir, 0755); err != nil {
		return nil, NewTrimErrorWithCause(ErrProfileIO,
			"failed to create workdir", err).
			WithContext("workdir", workdir).
			WithComponent("artifacts")
	}

	return &ArtifactManager{
		workdir:        workdir,
		sourcePath:     filepath.Join(workdir, cfg.SourceProfile),
		workingPath:    filepath.Join(workdir, cfg.WorkingProfile),
		minimizedPath:  filepath.Join(workdir, cfg.MinimizedProfile),
		statePath:      filepath.Join(workdir, cfg.StateFile),
		keepCandidates: cfg.KeepCandidates,
		tracked:        make(map[string]struct{}),
	}, nil
}

// SourcePath returns the read-only input profile path.
func (am *ArtifactManager) SourcePath() string { return am.sourcePath }

// WorkingPath returns the working profile path.
func (am *ArtifactManager) WorkingPath() string { return am.workingPath }

// MinimizedPath returns the final minimized profile path.
func (am *ArtifactManager) MinimizedPath() string { return am.minimizedPath }

// StatePath returns the run-state journal path.
func (am *ArtifactManager) StatePath() string { return am.statePath }

// CandidatePath derives the candidate filename for a syscall. The name is
// validated and the result is joined inside the workdir so a hostile profile
// document cannot place files elsewhere.
func (am *ArtifactManager) CandidatePath(syscallName string) (string, error) {
	if syscallName == "" {
		return "", NewTrimError(ErrProfileFormat, "syscall name cannot be empty").
			WithComponent("artifacts")
	}
	if len(syscallName) > MaxSyscallNameLength {
		return "", NewTrimError(ErrProfileFormat, "syscall name too long").
			WithContext("name_length", len(syscallName)).
			WithContext("max_length", MaxSyscallNameLength).
			WithComponent("artifacts")
	}
	if !validSyscallName.MatchString(syscallName) {
		return "", NewTrimError(ErrProfileFormat, "syscall name contains invalid characters").
			WithContext("name", syscallName).
			WithComponent("artifacts")
	}

	path, err := securejoin.SecureJoin(am.workdir, CandidatePrefix+syscallName+".json")
	if err != nil {
		return "", NewTrimErrorWithCause(ErrProfileIO,
			"failed to derive candidate path", err).
			WithContext("name", syscallName).
			WithComponent("artifacts")
	}
	return path, nil
}

// WriteCandidate persists a candidate profile for one syscall and tracks the
// file for later removal.
func (am *ArtifactManager) WriteCandidate(profile *Profile, syscallName string) (string, error) {
	path, err := am.CandidatePath(syscallName)
	if err != nil {
		return "", err
	}

	if err := profile.Save(path); err != nil {
		return "", err
	}

	am.mu.Lock()
	am.tracked[path] = struct{}{}
	am.mu.Unlock()

	return path, nil
}

// RemoveCandidate deletes one candidate file. Removal is idempotent and a
// no-op when candidate retention is configured.
func (am *ArtifactManager) RemoveCandidate(path string) error {
	am.mu.Lock()
	delete(am.tracked, path)
	am.mu.Unlock()

	if am.keepCandidates {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return NewTrimErrorWithCause(ErrProfileIO,
			"failed to remove candidate", err).
			WithContext("path", path).
			WithComponent("artifacts")
	}
	return nil
}

// RemoveStaleCandidates deletes every file in the workdir matching the
// candidate naming scheme, regardless of which run created it. Retention
// configuration does not apply: a sweep is an explicit request.
func (am *ArtifactManager) RemoveStaleCandidates() (int, error) {
	matches, err := filepath.Glob(filepath.Join(am.workdir, CandidatePrefix+"*.json"))
	if err != nil {
		return 0, NewTrimErrorWithCause(ErrProfileIO,
			"failed to scan for candidate files", err).
			WithContext("workdir", am.workdir).
			WithComponent("artifacts")
	}

	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, NewTrimErrorWithCause(ErrProfileIO,
				"failed to remove candidate", err).
				WithContext("path", path).
				WithComponent("artifacts")
		}
		removed++
	}
	return removed, nil
}

// RemoveTrackedCandidates deletes every candidate still tracked. Used on
// abnormal termination so an interrupted run leaves no ephemeral files.
func (am *ArtifactManager) RemoveTrackedCandidates() []error {
	am.mu.Lock()
	paths := make([]string, 0, len(am.tracked))
	for path := range am.tracked {
		paths = append(paths, path)
	}
	am.mu.Unlock()

	var errs []error
	for _, path := range paths {
		if err := am.RemoveCandidate(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// writeFileAtomic writes data to a temporary file in the target's directory
// and renames it over the target, so readers never observe a half-written
// profile and an interrupt cannot corrupt the working copy.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return fmt.Errorf("target path cannot be empty")
	}

	tempPath := path + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())

	defer func() {
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	if err := os.WriteFile(tempPath, data, perm); err != nil {
		return fmt.Errorf("temp write failed: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("atomic commit failed: %w", err)
	}

	return nil
}
