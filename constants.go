package main

import "time"

// Target defaults
const (
	DefaultImage           = "flask:0.0.3"
	DefaultContainerName   = "seccomptrim-target"
	DefaultApparmorProfile = "apparmor-flask"
	DefaultContainerPort   = 5000
	DefaultHostPort        = 5000

	// Harness timing
	DefaultReadinessTimeout = 30 * time.Second
	DefaultSettleDelay      = 5 * time.Second
	DefaultStopTimeout      = 30 * time.Second
	DefaultCleanupTimeout   = 30 * time.Second

	// Docker invocation pacing
	DefaultDockerBinary       = "docker"
	DefaultDockerRateInterval = 250 * time.Millisecond
	DefaultDockerRateBurst    = 10

	// Probe defaults
	DefaultProbeScheme  = "http"
	DefaultProbeHost    = "localhost"
	DefaultProbeTimeout = 10 * time.Second
	DefaultProbePayload = "test_content"

	// Artifact names, resolved relative to the workdir
	DefaultWorkdir          = "."
	DefaultSourceProfile    = "seccomp-default.json"
	DefaultWorkingProfile   = "seccomp.json"
	DefaultMinimizedProfile = "seccomp-minimized.json"
	DefaultStateFile        = "seccomptrim-state.json"
	CandidatePrefix         = "seccomp_test_"

	// Label applied to every instance the harness launches; stopAll sweeps by it
	ManagedLabel = "seccomptrim.managed"

	// Longest syscall name accepted when deriving candidate filenames
	MaxSyscallNameLength = 128
)
