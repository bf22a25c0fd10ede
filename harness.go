package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Harness drives service instances under candidate profiles. The concrete
// mechanism behind it is an implementation detail; the engine only depends on
// these five capabilities.
type Harness interface {
	// Start launches one instance enforcing the profile at profilePath.
	Start(ctx context.Context, profilePath string) (*Instance, error)
	// AwaitRunning waits the settle delay and verifies the instance is alive.
	AwaitRunning(ctx context.Context, inst *Instance) error
	// Stop stops and removes one instance. Idempotent.
	Stop(ctx context.Context, inst *Instance) error
	// StopAll force-stops and removes every instance the harness manages.
	StopAll(ctx context.Context) error
	// Logs retrieves the diagnostic output of an instance.
	Logs(ctx context.Context, inst *Instance) (string, error)
}

// Instance represents one running container under test.
type Instance struct {
	ID          string
	StartedAt   time.Time
	Diagnostics string
}

// instanceState mirrors the fields of the runtime's inspect output that
// liveness decisions depend on.
type instanceState struct {
	Running   bool   `json:"Running"`
	Status    string `json:"Status"`
	ExitCode  int    `json:"ExitCode"`
	OOMKilled bool   `json:"OOMKilled"`
	Error     string `json:"Error"`
}

// runnerFunc executes one runtime CLI invocation and returns its combined
// output. Tests substitute this to observe and script docker behavior.
type runnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DockerHarness implements Harness by shelling out to the docker CLI.
type DockerHarness struct {
	target  TargetConfig
	docker  DockerConfig
	limiter *rate.Limiter
	run     runnerFunc
}

// NewDockerHarness builds a harness from the run configuration.
func NewDockerHarness(cfg *Config) *DockerHarness {
	limit := rate.Inf
	if interval := cfg.Docker.RateInterval.Std(); interval > 0 {
		limit = rate.Every(interval)
	}
	return &DockerHarness{
		target:  cfg.Target,
		docker:  cfg.Docker,
		limiter: rate.NewLimiter(limit, cfg.Docker.RateBurst),
		run:     execRunner,
	}
}

// invoke runs one docker command after passing the rate limiter.
func (h *DockerHarness) invoke(ctx context.Context, args ...string) ([]byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	Logger(ctx).Debug("Invoking docker", "binary", h.docker.Binary, "args", args)
	return h.run(ctx, h.docker.Binary, args...)
}

// Start launches a detached instance of the target image enforcing the given
// seccomp profile. The harness owns single-instance occupancy: any prior
// container holding the configured name is force-removed first.
func (h *DockerHarness) Start(ctx context.Context, profilePath string) (*Instance, error) {
	logger := Logger(ctx).With("component", "harness")

	removeCtx, removeCancel := context.WithTimeout(ctx, h.docker.StopTimeout.Std())
	out, err := h.invoke(removeCtx, "rm", "-f", h.target.ContainerName)
	removeCancel()
	if err != nil && !isNotFound(out) {
		logger.Debug("Pre-start removal reported an error", "output", strings.TrimSpace(string(out)), "error", err)
	}

	absProfile, err := filepath.Abs(profilePath)
	if err != nil {
		return nil, WrapRuntimeOperation("resolve-profile-path", err).
			WithContext("path", profilePath)
	}

	args := []string{
		"run", "-d", "--rm",
		"--name", h.target.ContainerName,
		"--label", ManagedLabel + "=1",
		"--security-opt", "seccomp=" + absProfile,
	}
	if h.target.ApparmorProfile != "" {
		args = append(args, "--security-opt", "apparmor="+h.target.ApparmorProfile)
	}
	args = append(args,
		"-p", fmt.Sprintf("%d:%d", h.target.HostPort, h.target.ContainerPort),
		h.target.Image,
	)

	runCtx, cancel := context.WithTimeout(ctx, h.docker.ReadinessTimeout.Std())
	defer cancel()

	out, err = h.invoke(runCtx, args...)
	if err != nil {
		trimErr := WrapStartupError(h.target.Image, err).
			WithContext("output", strings.TrimSpace(string(out)))
		if runCtx.Err() == context.DeadlineExceeded {
			trimErr = trimErr.WithContext("timeout", h.docker.ReadinessTimeout.Std().String())
		}
		return nil, trimErr
	}

	id := lastNonEmptyLine(string(out))
	if !looksLikeContainerID(id) {
		return nil, WrapRuntimeOperation("parse-container-id", fmt.Errorf("unexpected launch output")).
			WithContext("output", strings.TrimSpace(string(out)))
	}

	logger.Debug("Instance launched", "id", shortID(id))
	return &Instance{ID: id, StartedAt: time.Now()}, nil
}

// AwaitRunning sleeps the settle delay and then inspects the instance once.
// An instance that launched but is no longer running is reported as crashed,
// with its log output captured for operator visibility.
func (h *DockerHarness) AwaitRunning(ctx context.Context, inst *Instance) error {
	select {
	case <-time.After(h.docker.SettleDelay.Std()):
	case <-ctx.Done():
		return WrapRuntimeOperation("settle-wait", ctx.Err())
	}

	state, err := h.inspectState(ctx, inst.ID)
	if err != nil {
		return err
	}

	if !state.Running {
		if logs, logErr := h.Logs(ctx, inst); logErr == nil {
			inst.Diagnostics = logs
		} else {
			Logger(ctx).Warn("Failed to capture crash diagnostics", "id", shortID(inst.ID), "error", logErr)
		}
		return NewTrimError(ErrStartupCrashed, "instance exited during settle delay").
			WithContext("id", shortID(inst.ID)).
			WithContext("status", state.Status).
			WithContext("exit_code", state.ExitCode).
			WithContext("oom_killed", state.OOMKilled).
			WithComponent("harness")
	}

	return nil
}

// inspectState queries the runtime for the instance state.
func (h *DockerHarness) inspectState(ctx context.Context, id string) (*instanceState, error) {
	inspectCtx, cancel := context.WithTimeout(ctx, h.docker.StopTimeout.Std())
	defer cancel()

	out, err := h.invoke(inspectCtx, "inspect", "--format", "{{json .State}}", id)
	if err != nil {
		return nil, WrapRuntimeOperation("inspect", err).
			WithContext("id", shortID(id)).
			WithContext("output", strings.TrimSpace(string(out)))
	}

	var state instanceState
	if err := json.Unmarshal([]byte(lastNonEmptyLine(string(out))), &state); err != nil {
		return nil, WrapRuntimeOperation("parse-inspect", err).
			WithContext("id", shortID(id))
	}
	return &state, nil
}

// Stop stops and removes one instance. Already-gone instances are not an
// error, so repeated stops are safe.
func (h *DockerHarness) Stop(ctx context.Context, inst *Instance) error {
	if inst == nil || inst.ID == "" {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, h.docker.StopTimeout.Std())
	defer cancel()

	chain := NewErrorChain("stop-instance")

	if out, err := h.invoke(stopCtx, "stop", inst.ID); err != nil && !isNotFound(out) {
		chain.Add(WrapRuntimeOperation("stop", err).
			WithContext("id", shortID(inst.ID)).
			WithContext("output", strings.TrimSpace(string(out))))
	}

	// The instance runs with autoremove; removal only matters when the
	// daemon has not gotten to it yet.
	if out, err := h.invoke(stopCtx, "rm", "-f", inst.ID); err != nil && !isNotFound(out) {
		chain.Add(WrapRuntimeOperation("remove", err).
			WithContext("id", shortID(inst.ID)).
			WithContext("output", strings.TrimSpace(string(out))))
	}

	return chain.ToError()
}

// StopAll force-stops and removes every instance the harness manages. The
// sweep matches both the management label and the target image, so instances
// from prior runs or crashed invocations are caught, while unrelated
// containers never are.
func (h *DockerHarness) StopAll(ctx context.Context) error {
	logger := Logger(ctx).With("component", "harness")

	ids := make(map[string]struct{})
	for _, filter := range []string{
		"label=" + ManagedLabel,
		"ancestor=" + h.target.Image,
	} {
		listCtx, cancel := context.WithTimeout(ctx, h.docker.StopTimeout.Std())
		out, err := h.invoke(listCtx, "ps", "-q", "--filter", filter)
		cancel()
		if err != nil {
			return WrapRuntimeOperation("list-instances", err).
				WithContext("filter", filter).
				WithContext("output", strings.TrimSpace(string(out)))
		}
		for _, id := range strings.Fields(string(out)) {
			ids[id] = struct{}{}
		}
	}

	if len(ids) == 0 {
		logger.Debug("No running instances to sweep")
		return nil
	}

	chain := NewErrorChain("stop-all")
	for id := range ids {
		logger.Info("Sweeping instance", "id", shortID(id))
		if err := h.Stop(ctx, &Instance{ID: id}); err != nil {
			chain.Add(err)
		}
	}
	return chain.ToError()
}

// Ping checks daemon reachability and returns the server version.
func (h *DockerHarness) Ping(ctx context.Context) (string, error) {
	pingCtx, cancel := context.WithTimeout(ctx, h.docker.StopTimeout.Std())
	defer cancel()

	out, err := h.invoke(pingCtx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", NewTrimErrorWithCause(ErrPreflight,
			"container runtime daemon is not reachable", err).
			WithContext("output", strings.TrimSpace(string(out))).
			WithComponent("harness")
	}
	return strings.TrimSpace(string(out)), nil
}

// Logs retrieves the combined log output of an instance.
func (h *DockerHarness) Logs(ctx context.Context, inst *Instance) (string, error) {
	if inst == nil || inst.ID == "" {
		return "", nil
	}

	logsCtx, cancel := context.WithTimeout(ctx, h.docker.StopTimeout.Std())
	defer cancel()

	out, err := h.invoke(logsCtx, "logs", inst.ID)
	if err != nil {
		return "", WrapRuntimeOperation("logs", err).
			WithContext("id", shortID(inst.ID))
	}
	return string(out), nil
}

// isNotFound reports whether a docker error output indicates the container is
// already gone.
func isNotFound(out []byte) bool {
	return strings.Contains(strings.ToLower(string(out)), "no such container")
}

// lastNonEmptyLine extracts the final line of CLI output, skipping trailing
// whitespace and any warnings printed before it.
func lastNonEmptyLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// looksLikeContainerID reports whether s plausibly is a container identifier.
func looksLikeContainerID(s string) bool {
	if len(s) < 12 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// shortID abbreviates a container identifier for log output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
