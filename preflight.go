package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// runPreflight verifies the environment can actually execute a run: the
// docker client and daemon are reachable, loopback is up for the probe, and
// nothing else is squatting on the published port. Failing fast here beats
// discovering a broken environment one syscall at a time.
func runPreflight(ctx context.Context, cfg *Config, harness *DockerHarness) error {
	logger := Logger(ctx).With("component", "preflight")

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		logger.Debug("Host kernel", "release", unix.ByteSliceToString(uts.Release[:]))
	}

	if _, err := exec.LookPath(cfg.Docker.Binary); err != nil {
		return NewTrimErrorWithCause(ErrPreflight,
			"container runtime binary not found", err).
			WithContext("binary", cfg.Docker.Binary).
			WithComponent("preflight")
	}

	version, err := harness.Ping(ctx)
	if err != nil {
		return err
	}
	logger.Debug("Container runtime reachable", "server_version", version)

	if err := checkLoopback(); err != nil {
		return err
	}

	// Quiesce before the port check. A leftover instance from a prior run is
	// expected to hold the port and is not an error.
	if err := harness.StopAll(ctx); err != nil {
		return err
	}

	if err := checkPortFree(cfg.Probe.Host, cfg.Target.HostPort); err != nil {
		return err
	}

	logger.Info("Preflight checks passed")
	return nil
}

// checkLoopback confirms the loopback interface is up. The probe dials
// localhost, so a downed lo turns every candidate into a false necessary.
func checkLoopback() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return NewTrimErrorWithCause(ErrPreflight,
			"failed to query loopback interface", err).
			WithComponent("preflight")
	}
	if link.Attrs().Flags&net.FlagUp == 0 {
		return NewTrimError(ErrPreflight, "loopback interface is down").
			WithComponent("preflight")
	}
	return nil
}

// checkPortFree dials the published port. A successful connect means a
// foreign listener would answer the probe instead of the target.
func checkPortFree(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return NewTrimError(ErrPreflight, "published port already has a listener").
			WithContext("address", addr).
			WithComponent("preflight")
	}
	return nil
}
