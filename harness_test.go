package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type runnerCall struct {
	name string
	args []string
}

// newScriptedDockerHarness builds a harness whose CLI invocations are served
// by script instead of a real docker binary. The settle delay is shrunk so
// AwaitRunning tests stay fast.
func newScriptedDockerHarness(script func(call runnerCall, n int) ([]byte, error)) (*DockerHarness, *[]runnerCall) {
	cfg := DefaultConfig()
	cfg.Docker.SettleDelay = Duration(time.Millisecond)
	cfg.Docker.RateInterval = 0

	h := NewDockerHarness(cfg)
	calls := &[]runnerCall{}
	h.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		call := runnerCall{name: name, args: args}
		*calls = append(*calls, call)
		return script(call, len(*calls))
	}
	return h, calls
}

const testContainerID = "4a5f6e7d8c9b0a1f2e3d4c5b6a798f0e1d2c3b4a5f6e7d8c9b0a1f2e3d4c5b6a"

func TestHarnessStartArgv(t *testing.T) {
	h, calls := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		switch call.args[0] {
		case "rm":
			return []byte("Error response from daemon: No such container: seccomptrim-target"), errors.New("exit status 1")
		case "run":
			// Daemon warnings precede the ID on real output.
			return []byte("WARNING: No swap limit support\n" + testContainerID + "\n"), nil
		default:
			return nil, fmt.Errorf("unexpected command %v", call.args)
		}
	})

	inst, err := h.Start(testContext(), "profiles/seccomp_test_close.json")
	if err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	if inst.ID != testContainerID {
		t.Errorf("Expected parsed container ID, got %q", inst.ID)
	}

	if len(*calls) != 2 {
		t.Fatalf("Expected 2 invocations, got %d", len(*calls))
	}

	// Occupancy: the configured name is force-removed before every launch.
	if got := (*calls)[0].args; !reflect.DeepEqual(got, []string{"rm", "-f", DefaultContainerName}) {
		t.Errorf("Expected pre-start removal, got %v", got)
	}

	absProfile, _ := filepath.Abs("profiles/seccomp_test_close.json")
	want := []string{
		"run", "-d", "--rm",
		"--name", DefaultContainerName,
		"--label", ManagedLabel + "=1",
		"--security-opt", "seccomp=" + absProfile,
		"--security-opt", "apparmor=" + DefaultApparmorProfile,
		"-p", "5000:5000",
		DefaultImage,
	}
	if got := (*calls)[1].args; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected launch argv\n%v\ngot\n%v", want, got)
	}
}

func TestHarnessStartWithoutApparmor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target.ApparmorProfile = ""
	h := NewDockerHarness(cfg)

	var launchArgs []string
	h.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if args[0] == "run" {
			launchArgs = args
			return []byte(testContainerID), nil
		}
		return nil, nil
	}

	if _, err := h.Start(testContext(), "p.json"); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	for _, arg := range launchArgs {
		if strings.HasPrefix(arg, "apparmor=") {
			t.Errorf("Expected no apparmor option, got %v", launchArgs)
		}
	}
}

func TestHarnessStartLaunchRejected(t *testing.T) {
	h, _ := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		if call.args[0] == "run" {
			return []byte("docker: Error response from daemon: OCI runtime create failed"), errors.New("exit status 125")
		}
		return nil, nil
	})

	_, err := h.Start(testContext(), "p.json")
	if !IsErrorCode(err, ErrStartupFailed) {
		t.Errorf("Expected startup failure, got %v", err)
	}
}

func TestHarnessStartUnparseableOutput(t *testing.T) {
	h, _ := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		if call.args[0] == "run" {
			return []byte("something that is not an id"), nil
		}
		return nil, nil
	})

	_, err := h.Start(testContext(), "p.json")
	if !IsErrorCode(err, ErrRuntimeOperation) {
		t.Errorf("Expected runtime operation error, got %v", err)
	}
}

func TestHarnessAwaitRunning(t *testing.T) {
	t.Run("Alive", func(t *testing.T) {
		h, _ := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
			if call.args[0] == "inspect" {
				return []byte(`{"Running":true,"Status":"running","ExitCode":0}` + "\n"), nil
			}
			return nil, nil
		})

		inst := &Instance{ID: testContainerID}
		if err := h.AwaitRunning(testContext(), inst); err != nil {
			t.Errorf("Expected running instance to pass, got %v", err)
		}
	})

	t.Run("Crashed During Settle", func(t *testing.T) {
		h, _ := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
			switch call.args[0] {
			case "inspect":
				return []byte(`{"Running":false,"Status":"exited","ExitCode":159,"OOMKilled":false}`), nil
			case "logs":
				return []byte("Bad system call (core dumped)\n"), nil
			}
			return nil, nil
		})

		inst := &Instance{ID: testContainerID}
		err := h.AwaitRunning(testContext(), inst)
		if !IsErrorCode(err, ErrStartupCrashed) {
			t.Fatalf("Expected crash classification, got %v", err)
		}
		if !strings.Contains(inst.Diagnostics, "Bad system call") {
			t.Errorf("Expected crash logs captured, got %q", inst.Diagnostics)
		}
	})

	t.Run("Inspect Failure", func(t *testing.T) {
		h, _ := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
			if call.args[0] == "inspect" {
				return []byte("Error: No such object"), errors.New("exit status 1")
			}
			return nil, nil
		})

		err := h.AwaitRunning(testContext(), &Instance{ID: testContainerID})
		if !IsErrorCode(err, ErrRuntimeOperation) {
			t.Errorf("Expected runtime operation error, got %v", err)
		}
	})
}

func TestHarnessStopIdempotent(t *testing.T) {
	h, calls := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		return []byte("Error response from daemon: No such container: " + testContainerID), errors.New("exit status 1")
	})

	inst := &Instance{ID: testContainerID}
	if err := h.Stop(testContext(), inst); err != nil {
		t.Errorf("Expected stop of a gone instance to succeed, got %v", err)
	}
	if err := h.Stop(testContext(), inst); err != nil {
		t.Errorf("Expected repeated stop to succeed, got %v", err)
	}
	if err := h.Stop(testContext(), nil); err != nil {
		t.Errorf("Expected nil instance stop to be a no-op, got %v", err)
	}

	// Two invocations (stop, rm) per non-nil call.
	if len(*calls) != 4 {
		t.Errorf("Expected 4 invocations, got %d", len(*calls))
	}
}

func TestHarnessStopReportsRealFailures(t *testing.T) {
	h, _ := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		return []byte("Error response from daemon: connection refused"), errors.New("exit status 1")
	})

	err := h.Stop(testContext(), &Instance{ID: testContainerID})
	if err == nil {
		t.Fatal("Expected stop failure to be reported")
	}
	if !strings.Contains(err.Error(), "stop-instance") {
		t.Errorf("Expected chained stop error, got %v", err)
	}
}

func TestHarnessStopAll(t *testing.T) {
	idA := strings.Repeat("a", 64)
	idB := strings.Repeat("b", 64)

	h, calls := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		switch call.args[0] {
		case "ps":
			filter := call.args[len(call.args)-1]
			if strings.HasPrefix(filter, "label=") {
				return []byte(idA + "\n"), nil
			}
			// The ancestor filter sees the labelled instance too.
			return []byte(idA + "\n" + idB + "\n"), nil
		default:
			return []byte(""), nil
		}
	})

	if err := h.StopAll(testContext()); err != nil {
		t.Fatalf("Expected sweep to succeed, got %v", err)
	}

	stopped := make(map[string]int)
	for _, call := range *calls {
		if call.args[0] == "stop" {
			stopped[call.args[1]]++
		}
	}
	if len(stopped) != 2 {
		t.Errorf("Expected 2 distinct instances stopped, got %v", stopped)
	}
	if stopped[idA] != 1 {
		t.Errorf("Expected overlapping instance stopped once, got %d", stopped[idA])
	}
}

func TestHarnessStopAllEmpty(t *testing.T) {
	h, calls := newScriptedDockerHarness(func(call runnerCall, n int) ([]byte, error) {
		return []byte("\n"), nil
	})

	if err := h.StopAll(testContext()); err != nil {
		t.Errorf("Expected empty sweep to succeed, got %v", err)
	}
	// Two list calls, no stop calls.
	if len(*calls) != 2 {
		t.Errorf("Expected only the 2 list invocations, got %d", len(*calls))
	}
}

func TestLastNonEmptyLine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"\n\n", ""},
		{"abc\n", "abc"},
		{"warning\nabc\n\n", "abc"},
		{"  abc  ", "abc"},
	}
	for _, tc := range cases {
		if got := lastNonEmptyLine(tc.in); got != tc.want {
			t.Errorf("Expected %q for input %q, got %q", tc.want, tc.in, got)
		}
	}
}

func TestLooksLikeContainerID(t *testing.T) {
	if !looksLikeContainerID(testContainerID) {
		t.Error("Expected full-length ID to be accepted")
	}
	if !looksLikeContainerID("0123456789ab") {
		t.Error("Expected short-form ID to be accepted")
	}
	for _, bad := range []string{"", "short", "docker: error", "0123456789AB", "0123456789 b"} {
		if looksLikeContainerID(bad) {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}
