package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// loggerKey is the key used to store the slog.Logger in the context.
	loggerKey contextKey = "logger"
)

// Duration wraps time.Duration so YAML values may be written either as
// strings accepted by time.ParseDuration ("30s", "1m30s") or as plain
// integers, which are interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// --- Configuration Structs ---

// Config is the top-level configuration for a minimization run.
type Config struct {
	Target    TargetConfig   `yaml:"target"`
	Docker    DockerConfig   `yaml:"docker"`
	Probe     ProbeConfig    `yaml:"probe"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
}

// TargetConfig describes the service under test.
type TargetConfig struct {
	Image           string `yaml:"image"`            // Container image to launch for every candidate profile.
	ContainerName   string `yaml:"container_name"`   // Fixed name; enforces single-instance occupancy.
	ApparmorProfile string `yaml:"apparmor_profile"` // AppArmor profile name, empty to launch without one.
	ContainerPort   int    `yaml:"container_port"`   // Port the service listens on inside the container.
	HostPort        int    `yaml:"host_port"`        // Published host port the probe targets.
}

// DockerConfig holds settings for driving the container runtime CLI.
type DockerConfig struct {
	Binary           string   `yaml:"binary"`            // docker binary name or path.
	ReadinessTimeout Duration `yaml:"readiness_timeout"` // Maximum time for the launch command itself.
	SettleDelay      Duration `yaml:"settle_delay"`      // Wait before the liveness inspection.
	StopTimeout      Duration `yaml:"stop_timeout"`      // Maximum time for stop/remove operations.
	RateInterval     Duration `yaml:"rate_interval"`     // Minimum spacing between docker invocations.
	RateBurst        int      `yaml:"rate_burst"`        // Invocation burst allowance.
}

// ProbeConfig holds settings for the functionality probe.
type ProbeConfig struct {
	Scheme   string   `yaml:"scheme"`    // http or https.
	Host     string   `yaml:"host"`      // Host the published port is reachable on.
	Payload  string   `yaml:"payload"`   // Representative content posted to the write endpoint.
	Timeout  Duration `yaml:"timeout"`   // Per-request timeout.
	APIWrite bool     `yaml:"api_write"` // Also exercise the JSON write endpoint.
}

// ArtifactConfig names the profile artifacts a run reads and writes.
type ArtifactConfig struct {
	Workdir          string `yaml:"workdir"`           // Directory holding every artifact.
	SourceProfile    string `yaml:"source_profile"`    // Read-only input profile.
	WorkingProfile   string `yaml:"working_profile"`   // Rewritten after each confirmed removal.
	MinimizedProfile string `yaml:"minimized_profile"` // Written once on run completion.
	StateFile        string `yaml:"state_file"`        // Per-syscall verdict journal for --resume.
	KeepCandidates   bool   `yaml:"keep_candidates"`   // Retain per-syscall candidate files for debugging.
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Image:           DefaultImage,
			ContainerName:   DefaultContainerName,
			ApparmorProfile: DefaultApparmorProfile,
			ContainerPort:   DefaultContainerPort,
			HostPort:        DefaultHostPort,
		},
		Docker: DockerConfig{
			Binary:           DefaultDockerBinary,
			ReadinessTimeout: Duration(DefaultReadinessTimeout),
			SettleDelay:      Duration(DefaultSettleDelay),
			StopTimeout:      Duration(DefaultStopTimeout),
			RateInterval:     Duration(DefaultDockerRateInterval),
			RateBurst:        DefaultDockerRateBurst,
		},
		Probe: ProbeConfig{
			Scheme:  DefaultProbeScheme,
			Host:    DefaultProbeHost,
			Payload: DefaultProbePayload,
			Timeout: Duration(DefaultProbeTimeout),
		},
		Artifacts: ArtifactConfig{
			Workdir:          DefaultWorkdir,
			SourceProfile:    DefaultSourceProfile,
			WorkingProfile:   DefaultWorkingProfile,
			MinimizedProfile: DefaultMinimizedProfile,
			StateFile:        DefaultStateFile,
		},
	}
}

// LoadConfigFile reads a YAML configuration file over the defaults. Keys
// absent from the file keep their default values.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapConfigError("config_file", err).
			WithContext("path", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, WrapConfigError("config_file", err).
			WithContext("path", path)
	}
	return cfg, nil
}

// ProbeBaseURL builds the base URL the probe targets from the configured
// scheme, host, and published port.
func (c *Config) ProbeBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Probe.Scheme, c.Probe.Host, c.Target.HostPort)
}

// Regex for validating container names. Allows alphanumeric characters, hyphens, and underscores.
var validContainerName = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// validateConfig performs comprehensive validation of the run configuration.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return NewTrimError(ErrConfigValidation, "configuration cannot be nil").
			WithComponent("config")
	}

	if cfg.Target.Image == "" {
		return NewTrimError(ErrConfigValidation, "target image cannot be empty").
			WithContext("field", "target.image").
			WithComponent("config")
	}
	if cfg.Target.ContainerName == "" {
		return NewTrimError(ErrConfigValidation, "container name cannot be empty").
			WithContext("field", "target.container_name").
			WithComponent("config")
	}
	if len(cfg.Target.ContainerName) > 253 {
		return NewTrimError(ErrConfigValidation, "container name too long").
			WithContext("field", "target.container_name").
			WithContext("length", len(cfg.Target.ContainerName)).
			WithContext("max_length", 253).
			WithComponent("config")
	}
	if !validContainerName.MatchString(cfg.Target.ContainerName) {
		return NewTrimError(ErrConfigValidation, "invalid container name format").
			WithContext("field", "target.container_name").
			WithContext("name", cfg.Target.ContainerName).
			WithContext("allowed_pattern", "alphanumeric, hyphens, underscores, and periods").
			WithComponent("config")
	}

	if cfg.Target.ContainerPort < 1 || cfg.Target.ContainerPort > 65535 {
		return NewTrimError(ErrConfigValidation, "container port out of range").
			WithContext("field", "target.container_port").
			WithContext("value", cfg.Target.ContainerPort).
			WithComponent("config")
	}
	if cfg.Target.HostPort < 1 || cfg.Target.HostPort > 65535 {
		return NewTrimError(ErrConfigValidation, "host port out of range").
			WithContext("field", "target.host_port").
			WithContext("value", cfg.Target.HostPort).
			WithComponent("config")
	}

	if cfg.Docker.Binary == "" {
		return errors.New("docker binary cannot be empty")
	}
	if cfg.Docker.ReadinessTimeout.Std() <= 0 {
		return errors.New("readiness timeout must be positive")
	}
	if cfg.Docker.ReadinessTimeout.Std() > 10*time.Minute {
		return fmt.Errorf("readiness timeout too long (%v): max 10 minutes", cfg.Docker.ReadinessTimeout.Std())
	}
	if cfg.Docker.SettleDelay.Std() <= 0 {
		return errors.New("settle delay must be positive")
	}
	if cfg.Docker.SettleDelay.Std() > 5*time.Minute {
		return fmt.Errorf("settle delay too long (%v): max 5 minutes", cfg.Docker.SettleDelay.Std())
	}
	if cfg.Docker.StopTimeout.Std() <= 0 {
		return errors.New("stop timeout must be positive")
	}
	if cfg.Docker.RateInterval.Std() < 0 {
		return errors.New("rate interval cannot be negative")
	}
	if cfg.Docker.RateBurst < 1 {
		return errors.New("rate burst must be at least 1")
	}

	if cfg.Probe.Scheme != "http" && cfg.Probe.Scheme != "https" {
		return NewTrimError(ErrConfigValidation, "unsupported probe scheme").
			WithContext("field", "probe.scheme").
			WithContext("value", cfg.Probe.Scheme).
			WithComponent("config")
	}
	if cfg.Probe.Host == "" {
		return errors.New("probe host cannot be empty")
	}
	if cfg.Probe.Payload == "" {
		return errors.New("probe payload cannot be empty")
	}
	if cfg.Probe.Timeout.Std() <= 0 {
		return errors.New("probe timeout must be positive")
	}

	if cfg.Artifacts.Workdir == "" {
		return errors.New("artifact workdir cannot be empty")
	}
	for field, name := range map[string]string{
		"artifacts.source_profile":    cfg.Artifacts.SourceProfile,
		"artifacts.working_profile":   cfg.Artifacts.WorkingProfile,
		"artifacts.minimized_profile": cfg.Artifacts.MinimizedProfile,
		"artifacts.state_file":        cfg.Artifacts.StateFile,
	} {
		if name == "" {
			return NewTrimError(ErrConfigValidation, "artifact filename cannot be empty").
				WithContext("field", field).
				WithComponent("config")
		}
	}

	// The three profile artifacts share one directory; aliasing any pair
	// would overwrite the source or corrupt the working copy.
	if cfg.Artifacts.SourceProfile == cfg.Artifacts.WorkingProfile {
		return errors.New("source and working profile must be distinct files")
	}
	if cfg.Artifacts.SourceProfile == cfg.Artifacts.MinimizedProfile {
		return errors.New("source and minimized profile must be distinct files")
	}
	if cfg.Artifacts.WorkingProfile == cfg.Artifacts.MinimizedProfile {
		return errors.New("working and minimized profile must be distinct files")
	}

	return nil
}
