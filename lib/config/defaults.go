package config

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-i2p/logger"
)

// ConfigDefaults holds every setting with its default. Field comments
// document the default value.
type ConfigDefaults struct {
	Router    RouterDefaults    `yaml:"router"`
	Path      PathDefaults      `yaml:"path"`
	Transit   TransitDefaults   `yaml:"transit"`
	Worker    WorkerDefaults    `yaml:"worker"`
	Profiling ProfilingDefaults `yaml:"profiling"`
	Metrics   MetricsDefaults   `yaml:"metrics"`
	Clock     ClockDefaults     `yaml:"clock"`
}

// RouterDefaults configures the router process.
type RouterDefaults struct {
	// WorkingDir holds runtime state.
	// Default: $HOME/.go-onionpath
	WorkingDir string `yaml:"working_dir"`

	// LogicQueueSize bounds calls waiting for the logic loop.
	// Default: 4096
	LogicQueueSize int `yaml:"logic_queue_size"`
}

// PathDefaults configures the paths this router builds.
type PathDefaults struct {
	// Hops per path.
	// Default: 4
	Hops int `yaml:"hops"`

	// DesiredPaths is how many paths each path set keeps alive.
	// Default: 4
	DesiredPaths int `yaml:"desired_paths"`

	// Lifetime is the signed lifetime requested from every hop.
	// Default: 20 minutes
	Lifetime time.Duration `yaml:"lifetime"`

	// BuildTimeout is the single countdown for a build's status chain.
	// Default: 30 seconds
	BuildTimeout time.Duration `yaml:"build_timeout"`

	// LatencyInterval is how often an established path is probed.
	// Default: 20 seconds
	LatencyInterval time.Duration `yaml:"latency_interval"`

	// MaxMissedProbes unanswered in a row time a path out.
	// Default: 3
	MaxMissedProbes int `yaml:"max_missed_probes"`

	// BuildRetryDelay is the linear backoff step after a failed build.
	// Default: 500 milliseconds
	BuildRetryDelay time.Duration `yaml:"build_retry_delay"`

	// MaxBuildBackoff caps the backoff.
	// Default: 30 seconds
	MaxBuildBackoff time.Duration `yaml:"max_build_backoff"`

	// EdgeBuildInterval limits builds through one first hop.
	// Default: 500 milliseconds
	EdgeBuildInterval time.Duration `yaml:"edge_build_interval"`
}

// TransitDefaults configures relaying for other routers' paths.
type TransitDefaults struct {
	// MaxHops is the hard cap on installed transit hops.
	// Default: 8192
	MaxHops int `yaml:"max_hops"`

	// MaxCommitsPerMinute is the sustained commit rate per neighbour.
	// Default: 120
	MaxCommitsPerMinute int `yaml:"max_commits_per_minute"`

	// CommitBurst is the commit burst per neighbour.
	// Default: 20
	CommitBurst int `yaml:"commit_burst"`

	// MaxClockSkew bounds the distance between a record's start time
	// and the local clock.
	// Default: 2 minutes
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`

	// ExpireInterval is how often expired hops are swept.
	// Default: 5 seconds
	ExpireInterval time.Duration `yaml:"expire_interval"`
}

// WorkerDefaults configures the crypto worker pool.
type WorkerDefaults struct {
	// Count of worker goroutines.
	// Default: GOMAXPROCS
	Count int `yaml:"count"`

	// QueueSize bounds jobs waiting for a worker.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`
}

// ProfilingDefaults configures router profiles.
type ProfilingDefaults struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path of the profile database.
	// Default: $HOME/.go-onionpath/profiles.db
	Path string `yaml:"path"`
}

// MetricsDefaults configures the prometheus endpoint.
type MetricsDefaults struct {
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Default: 127.0.0.1:9600
	Address string `yaml:"address"`
}

// ClockDefaults configures NTP correction of the router clock.
type ClockDefaults struct {
	// Default: false
	NTPEnabled bool `yaml:"ntp_enabled"`

	// Default: pool.ntp.org
	Servers []string `yaml:"servers"`

	// SyncInterval is how often the offset is refreshed.
	// Default: 1 hour
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// Defaults returns the default configuration.
func Defaults() ConfigDefaults {
	dir := BuildDirPath()
	return ConfigDefaults{
		Router: RouterDefaults{
			WorkingDir:     dir,
			LogicQueueSize: 4096,
		},
		Path: buildPathDefaults(),
		Transit: TransitDefaults{
			MaxHops:             8192,
			MaxCommitsPerMinute: 120,
			CommitBurst:         20,
			MaxClockSkew:        2 * time.Minute,
			ExpireInterval:      5 * time.Second,
		},
		Worker: WorkerDefaults{
			Count:     runtime.GOMAXPROCS(0),
			QueueSize: 1024,
		},
		Profiling: ProfilingDefaults{
			Enabled: true,
			Path:    filepath.Join(dir, "profiles.db"),
		},
		Metrics: MetricsDefaults{
			Enabled: false,
			Address: "127.0.0.1:9600",
		},
		Clock: ClockDefaults{
			NTPEnabled:   false,
			Servers:      []string{"pool.ntp.org"},
			SyncInterval: time.Hour,
		},
	}
}

func buildPathDefaults() PathDefaults {
	return PathDefaults{
		Hops:              4,
		DesiredPaths:      4,
		Lifetime:          20 * time.Minute,
		BuildTimeout:      30 * time.Second,
		LatencyInterval:   20 * time.Second,
		MaxMissedProbes:   3,
		BuildRetryDelay:   500 * time.Millisecond,
		MaxBuildBackoff:   30 * time.Second,
		EdgeBuildInterval: 500 * time.Millisecond,
	}
}

// Validate returns an error describing the first invalid value in cfg.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	validators := []func() error{
		func() error { return validateRouter(cfg.Router) },
		func() error { return validatePath(cfg.Path) },
		func() error { return validateTransit(cfg.Transit) },
		func() error { return validateWorker(cfg.Worker) },
		func() error { return validateProfiling(cfg.Profiling) },
		func() error { return validateMetrics(cfg.Metrics) },
		func() error { return validateClock(cfg.Clock) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("configuration validation failed")
			return err
		}
	}
	log.WithField("at", "Validate").Debug("configuration valid")
	return nil
}

func invalid(section, reason string, value interface{}, message string) error {
	log.WithFields(logger.Fields{
		"at":     "validate" + section,
		"reason": reason,
		"value":  value,
	}).Error("invalid configuration")
	return newValidationError(section + "." + message)
}

func validateRouter(r RouterDefaults) error {
	if r.LogicQueueSize < 1 {
		return invalid("Router", "logic_queue_too_small", r.LogicQueueSize, "LogicQueueSize must be at least 1")
	}
	return nil
}

// maxHops mirrors wire.MaxLen; config stays free of protocol imports.
const maxHops = 8

func validatePath(p PathDefaults) error {
	if p.Hops < 1 || p.Hops > maxHops {
		return invalid("Path", "hops_out_of_range", p.Hops, "Hops must be between 1 and 8")
	}
	if p.DesiredPaths < 1 {
		return invalid("Path", "desired_paths_too_low", p.DesiredPaths, "DesiredPaths must be at least 1")
	}
	if p.Lifetime <= 10*time.Second || p.Lifetime > 20*time.Minute {
		return invalid("Path", "lifetime_out_of_range", p.Lifetime, "Lifetime must be above 10s and at most 20m")
	}
	if p.BuildTimeout <= 0 || p.BuildTimeout >= p.Lifetime {
		return invalid("Path", "build_timeout_out_of_range", p.BuildTimeout, "BuildTimeout must be positive and shorter than Lifetime")
	}
	if p.LatencyInterval <= 0 {
		return invalid("Path", "latency_interval_not_positive", p.LatencyInterval, "LatencyInterval must be positive")
	}
	if p.MaxMissedProbes < 1 {
		return invalid("Path", "max_missed_probes_too_low", p.MaxMissedProbes, "MaxMissedProbes must be at least 1")
	}
	if p.BuildRetryDelay < 0 || p.MaxBuildBackoff < p.BuildRetryDelay {
		return invalid("Path", "backoff_inverted", p.MaxBuildBackoff, "MaxBuildBackoff must be at least BuildRetryDelay")
	}
	if p.EdgeBuildInterval < 0 {
		return invalid("Path", "edge_build_interval_negative", p.EdgeBuildInterval, "EdgeBuildInterval must not be negative")
	}
	return nil
}

func validateTransit(t TransitDefaults) error {
	if t.MaxHops < 1 {
		return invalid("Transit", "max_hops_too_low", t.MaxHops, "MaxHops must be at least 1")
	}
	if t.MaxCommitsPerMinute < 1 || t.CommitBurst < 1 {
		return invalid("Transit", "commit_rate_too_low", t.MaxCommitsPerMinute, "MaxCommitsPerMinute and CommitBurst must be at least 1")
	}
	if t.MaxClockSkew <= 0 {
		return invalid("Transit", "max_clock_skew_not_positive", t.MaxClockSkew, "MaxClockSkew must be positive")
	}
	if t.ExpireInterval <= 0 {
		return invalid("Transit", "expire_interval_not_positive", t.ExpireInterval, "ExpireInterval must be positive")
	}
	return nil
}

func validateWorker(w WorkerDefaults) error {
	if w.Count < 1 {
		return invalid("Worker", "count_too_low", w.Count, "Count must be at least 1")
	}
	if w.QueueSize < 1 {
		return invalid("Worker", "queue_size_too_low", w.QueueSize, "QueueSize must be at least 1")
	}
	return nil
}

func validateProfiling(p ProfilingDefaults) error {
	if p.Enabled && p.Path == "" {
		return invalid("Profiling", "missing_path", p.Path, "Path must be set when profiling is enabled")
	}
	return nil
}

func validateMetrics(m MetricsDefaults) error {
	if m.Enabled && m.Address == "" {
		return invalid("Metrics", "missing_address", m.Address, "Address must be set when metrics are enabled")
	}
	return nil
}

func validateClock(c ClockDefaults) error {
	if !c.NTPEnabled {
		return nil
	}
	if len(c.Servers) == 0 {
		return invalid("Clock", "no_servers", c.Servers, "Servers must not be empty when NTP is enabled")
	}
	if c.SyncInterval < time.Minute {
		return invalid("Clock", "sync_interval_too_low", c.SyncInterval, "SyncInterval must be at least 1 minute")
	}
	return nil
}

type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
