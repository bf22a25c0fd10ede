package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// StateEntry records the classification of one syscall.
type StateEntry struct {
	Syscall   string    `json:"syscall"`
	Verdict   Verdict   `json:"verdict"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// RunState journals per-syscall verdicts as they are decided, so an
// interrupted run can resume without retesting. The journal is bound to the
// source profile by digest; a changed source invalidates it.
type RunState struct {
	StartedAt    time.Time    `json:"started_at"`
	SourceDigest string       `json:"source_digest"`
	Entries      []StateEntry `json:"entries"`

	path   string
	byName map[string]int
}

// NewRunState creates an empty journal bound to a source profile digest.
func NewRunState(path, sourceDigest string) *RunState {
	return &RunState{
		StartedAt:    time.Now(),
		SourceDigest: sourceDigest,
		path:         path,
		byName:       make(map[string]int),
	}
}

// LoadRunState reads a journal from disk.
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapStateError(path, err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, WrapStateError(path, err)
	}

	state.path = path
	state.byName = make(map[string]int, len(state.Entries))
	for i, entry := range state.Entries {
		state.byName[entry.Syscall] = i
	}
	return &state, nil
}

// Record appends one classification. A repeated syscall overwrites its
// earlier entry, which only happens when a resumed journal is being replayed.
func (rs *RunState) Record(syscall string, verdict Verdict, outcome Outcome) {
	entry := StateEntry{
		Syscall:   syscall,
		Verdict:   verdict,
		Outcome:   outcome,
		Timestamp: time.Now(),
	}

	if i, ok := rs.byName[syscall]; ok {
		rs.Entries[i] = entry
		return
	}
	rs.byName[syscall] = len(rs.Entries)
	rs.Entries = append(rs.Entries, entry)
}

// Classified returns the journaled entry for a syscall, if any.
func (rs *RunState) Classified(syscall string) (StateEntry, bool) {
	if i, ok := rs.byName[syscall]; ok {
		return rs.Entries[i], true
	}
	return StateEntry{}, false
}

// Len returns the number of journaled classifications.
func (rs *RunState) Len() int {
	return len(rs.Entries)
}

// Save persists the journal atomically.
func (rs *RunState) Save() error {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return WrapStateError(rs.path, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(rs.path, data, 0644); err != nil {
		return WrapStateError(rs.path, err)
	}
	return nil
}

// Remove deletes the journal file. Called when a run completes, since a
// finished run has nothing left to resume.
func (rs *RunState) Remove() error {
	if err := os.Remove(rs.path); err != nil && !os.IsNotExist(err) {
		return WrapStateError(rs.path, err)
	}
	return nil
}

// profileDigest computes the sha256 digest of a profile file in the
// "sha256:<hex>" form used to bind journals to their source.
func profileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", WrapStateError(path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", WrapStateError(path, err)
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}
