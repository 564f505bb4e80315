package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaults verifies the documented default values.
func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Path.Hops != 4 {
		t.Errorf("Path.Hops = %d, want 4", cfg.Path.Hops)
	}
	if cfg.Path.DesiredPaths != 4 {
		t.Errorf("Path.DesiredPaths = %d, want 4", cfg.Path.DesiredPaths)
	}
	if cfg.Path.Lifetime != 20*time.Minute {
		t.Errorf("Path.Lifetime = %v, want 20m", cfg.Path.Lifetime)
	}
	if cfg.Path.BuildTimeout != 30*time.Second {
		t.Errorf("Path.BuildTimeout = %v, want 30s", cfg.Path.BuildTimeout)
	}
	if cfg.Path.LatencyInterval != 20*time.Second {
		t.Errorf("Path.LatencyInterval = %v, want 20s", cfg.Path.LatencyInterval)
	}
	if cfg.Path.MaxMissedProbes != 3 {
		t.Errorf("Path.MaxMissedProbes = %d, want 3", cfg.Path.MaxMissedProbes)
	}
	if cfg.Path.BuildRetryDelay != 500*time.Millisecond {
		t.Errorf("Path.BuildRetryDelay = %v, want 500ms", cfg.Path.BuildRetryDelay)
	}
	if cfg.Transit.MaxHops != 8192 {
		t.Errorf("Transit.MaxHops = %d, want 8192", cfg.Transit.MaxHops)
	}
	if cfg.Transit.MaxCommitsPerMinute != 120 || cfg.Transit.CommitBurst != 20 {
		t.Errorf("Transit commit rate = %d/%d, want 120/20", cfg.Transit.MaxCommitsPerMinute, cfg.Transit.CommitBurst)
	}
	if cfg.Transit.MaxClockSkew != 2*time.Minute {
		t.Errorf("Transit.MaxClockSkew = %v, want 2m", cfg.Transit.MaxClockSkew)
	}
	if cfg.Worker.Count < 1 {
		t.Errorf("Worker.Count = %d, want at least 1", cfg.Worker.Count)
	}
	if cfg.Worker.QueueSize != 1024 {
		t.Errorf("Worker.QueueSize = %d, want 1024", cfg.Worker.QueueSize)
	}
	if !cfg.Profiling.Enabled {
		t.Error("Profiling should be enabled by default")
	}
	if !filepath.IsAbs(cfg.Profiling.Path) || filepath.Base(cfg.Profiling.Path) != "profiles.db" {
		t.Errorf("Profiling.Path = %q", cfg.Profiling.Path)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9600" {
		t.Errorf("Metrics.Address = %q", cfg.Metrics.Address)
	}
	if cfg.Clock.NTPEnabled {
		t.Error("NTP should be disabled by default")
	}
	if len(cfg.Clock.Servers) != 1 || cfg.Clock.Servers[0] != "pool.ntp.org" {
		t.Errorf("Clock.Servers = %v", cfg.Clock.Servers)
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigDefaults)
		want   string
	}{
		{"zero hops", func(c *ConfigDefaults) { c.Path.Hops = 0 }, "Path.Hops"},
		{"too many hops", func(c *ConfigDefaults) { c.Path.Hops = 9 }, "Path.Hops"},
		{"short lifetime", func(c *ConfigDefaults) { c.Path.Lifetime = 10 * time.Second }, "Path.Lifetime"},
		{"long lifetime", func(c *ConfigDefaults) { c.Path.Lifetime = 21 * time.Minute }, "Path.Lifetime"},
		{"timeout past lifetime", func(c *ConfigDefaults) { c.Path.BuildTimeout = 30 * time.Minute }, "Path.BuildTimeout"},
		{"no probes", func(c *ConfigDefaults) { c.Path.MaxMissedProbes = 0 }, "Path.MaxMissedProbes"},
		{"inverted backoff", func(c *ConfigDefaults) { c.Path.MaxBuildBackoff = time.Millisecond }, "Path.MaxBuildBackoff"},
		{"no transit hops", func(c *ConfigDefaults) { c.Transit.MaxHops = 0 }, "Transit.MaxHops"},
		{"no commit rate", func(c *ConfigDefaults) { c.Transit.CommitBurst = 0 }, "Transit.MaxCommitsPerMinute"},
		{"no workers", func(c *ConfigDefaults) { c.Worker.Count = 0 }, "Worker.Count"},
		{"profiling without path", func(c *ConfigDefaults) { c.Profiling.Path = "" }, "Profiling.Path"},
		{"metrics without address", func(c *ConfigDefaults) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, "Metrics.Address"},
		{"ntp without servers", func(c *ConfigDefaults) {
			c.Clock.NTPEnabled = true
			c.Clock.Servers = nil
		}, "Clock.Servers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}
