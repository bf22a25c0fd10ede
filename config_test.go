package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := validateConfig(DefaultConfig()); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	doc := `
target:
  image: flask:0.0.4
  host_port: 8080
docker:
  settle_delay: 2s
  stop_timeout: 45
probe:
  payload: hello
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Target.Image != "flask:0.0.4" {
		t.Errorf("Expected overridden image flask:0.0.4, got %s", cfg.Target.Image)
	}
	if cfg.Target.HostPort != 8080 {
		t.Errorf("Expected overridden host port 8080, got %d", cfg.Target.HostPort)
	}
	if cfg.Docker.SettleDelay.Std() != 2*time.Second {
		t.Errorf("Expected settle delay 2s, got %v", cfg.Docker.SettleDelay.Std())
	}
	// Integer durations are seconds.
	if cfg.Docker.StopTimeout.Std() != 45*time.Second {
		t.Errorf("Expected stop timeout 45s, got %v", cfg.Docker.StopTimeout.Std())
	}
	if cfg.Probe.Payload != "hello" {
		t.Errorf("Expected overridden payload hello, got %s", cfg.Probe.Payload)
	}

	// Untouched keys keep their defaults.
	if cfg.Target.ContainerName != DefaultContainerName {
		t.Errorf("Expected default container name, got %s", cfg.Target.ContainerName)
	}
	if cfg.Docker.ReadinessTimeout.Std() != DefaultReadinessTimeout {
		t.Errorf("Expected default readiness timeout, got %v", cfg.Docker.ReadinessTimeout.Std())
	}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("Expected merged config to validate, got %v", err)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		if !IsErrorCode(err, ErrConfigValidation) {
			t.Errorf("Expected config validation error, got %v", err)
		}
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("target: [unclosed"), 0644)
		_, err := LoadConfigFile(path)
		if !IsErrorCode(err, ErrConfigValidation) {
			t.Errorf("Expected config validation error, got %v", err)
		}
	})

	t.Run("Bad Duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dur.yaml")
		os.WriteFile(path, []byte("docker:\n  settle_delay: fast\n"), 0644)
		_, err := LoadConfigFile(path)
		if err == nil || !strings.Contains(err.Error(), "invalid duration") {
			t.Errorf("Expected invalid duration error, got %v", err)
		}
	})
}

func TestValidateConfigRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		message string
	}{
		{"Empty Image", func(c *Config) { c.Target.Image = "" }, "image cannot be empty"},
		{"Empty Container Name", func(c *Config) { c.Target.ContainerName = "" }, "container name cannot be empty"},
		{"Container Name Format", func(c *Config) { c.Target.ContainerName = "bad name!" }, "invalid container name format"},
		{"Container Name Length", func(c *Config) { c.Target.ContainerName = strings.Repeat("a", 254) }, "container name too long"},
		{"Container Port Zero", func(c *Config) { c.Target.ContainerPort = 0 }, "container port out of range"},
		{"Host Port Too High", func(c *Config) { c.Target.HostPort = 70000 }, "host port out of range"},
		{"Empty Docker Binary", func(c *Config) { c.Docker.Binary = "" }, "docker binary cannot be empty"},
		{"Zero Readiness Timeout", func(c *Config) { c.Docker.ReadinessTimeout = 0 }, "readiness timeout must be positive"},
		{"Excessive Readiness Timeout", func(c *Config) { c.Docker.ReadinessTimeout = Duration(11 * time.Minute) }, "readiness timeout too long"},
		{"Zero Settle Delay", func(c *Config) { c.Docker.SettleDelay = 0 }, "settle delay must be positive"},
		{"Negative Rate Interval", func(c *Config) { c.Docker.RateInterval = Duration(-time.Second) }, "rate interval cannot be negative"},
		{"Zero Rate Burst", func(c *Config) { c.Docker.RateBurst = 0 }, "rate burst must be at least 1"},
		{"Bad Probe Scheme", func(c *Config) { c.Probe.Scheme = "ftp" }, "unsupported probe scheme"},
		{"Empty Probe Payload", func(c *Config) { c.Probe.Payload = "" }, "probe payload cannot be empty"},
		{"Empty Workdir", func(c *Config) { c.Artifacts.Workdir = "" }, "artifact workdir cannot be empty"},
		{"Empty State File", func(c *Config) { c.Artifacts.StateFile = "" }, "artifact filename cannot be empty"},
		{"Aliased Source And Working", func(c *Config) { c.Artifacts.WorkingProfile = c.Artifacts.SourceProfile }, "source and working profile must be distinct"},
		{"Aliased Working And Minimized", func(c *Config) { c.Artifacts.MinimizedProfile = c.Artifacts.WorkingProfile }, "working and minimized profile must be distinct"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := validateConfig(cfg)
			if err == nil {
				t.Fatal("Expected validation to fail")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Errorf("Expected error containing %q, got %v", tc.message, err)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	if err := validateConfig(nil); !IsErrorCode(err, ErrConfigValidation) {
		t.Errorf("Expected config validation error, got %v", err)
	}
}

func TestProbeBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probe.Scheme = "http"
	cfg.Probe.Host = "127.0.0.1"
	cfg.Target.HostPort = 5000

	if got := cfg.ProbeBaseURL(); got != "http://127.0.0.1:5000" {
		t.Errorf("Expected http://127.0.0.1:5000, got %s", got)
	}
}
