package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-onionpath/lib/util"
)

var (
	// CfgFile overrides the default config file location when set.
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

// BaseDirName is the directory under $HOME holding config and state.
const BaseDirName = ".go-onionpath"

// InitConfig points viper at the config file, applies defaults and reads
// the file, creating it with the defaults if it does not exist yet.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	setDefaults()
	return handleConfigFile()
}

// BuildDirPath returns $HOME/.go-onionpath.
func BuildDirPath() string {
	return filepath.Join(util.UserHome(), BaseDirName)
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("router.working_dir", d.Router.WorkingDir)
	viper.SetDefault("router.logic_queue_size", d.Router.LogicQueueSize)

	viper.SetDefault("path.hops", d.Path.Hops)
	viper.SetDefault("path.desired_paths", d.Path.DesiredPaths)
	viper.SetDefault("path.lifetime", d.Path.Lifetime)
	viper.SetDefault("path.build_timeout", d.Path.BuildTimeout)
	viper.SetDefault("path.latency_interval", d.Path.LatencyInterval)
	viper.SetDefault("path.max_missed_probes", d.Path.MaxMissedProbes)
	viper.SetDefault("path.build_retry_delay", d.Path.BuildRetryDelay)
	viper.SetDefault("path.max_build_backoff", d.Path.MaxBuildBackoff)
	viper.SetDefault("path.edge_build_interval", d.Path.EdgeBuildInterval)

	viper.SetDefault("transit.max_hops", d.Transit.MaxHops)
	viper.SetDefault("transit.max_commits_per_minute", d.Transit.MaxCommitsPerMinute)
	viper.SetDefault("transit.commit_burst", d.Transit.CommitBurst)
	viper.SetDefault("transit.max_clock_skew", d.Transit.MaxClockSkew)
	viper.SetDefault("transit.expire_interval", d.Transit.ExpireInterval)

	viper.SetDefault("worker.count", d.Worker.Count)
	viper.SetDefault("worker.queue_size", d.Worker.QueueSize)

	viper.SetDefault("profiling.enabled", d.Profiling.Enabled)
	viper.SetDefault("profiling.path", d.Profiling.Path)

	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.address", d.Metrics.Address)

	viper.SetDefault("clock.ntp_enabled", d.Clock.NTPEnabled)
	viper.SetDefault("clock.servers", d.Clock.Servers)
	viper.SetDefault("clock.sync_interval", d.Clock.SyncInterval)
}

// CurrentConfig reads the effective configuration out of viper.
func CurrentConfig() ConfigDefaults {
	return ConfigDefaults{
		Router: RouterDefaults{
			WorkingDir:     viper.GetString("router.working_dir"),
			LogicQueueSize: viper.GetInt("router.logic_queue_size"),
		},
		Path: PathDefaults{
			Hops:              viper.GetInt("path.hops"),
			DesiredPaths:      viper.GetInt("path.desired_paths"),
			Lifetime:          viper.GetDuration("path.lifetime"),
			BuildTimeout:      viper.GetDuration("path.build_timeout"),
			LatencyInterval:   viper.GetDuration("path.latency_interval"),
			MaxMissedProbes:   viper.GetInt("path.max_missed_probes"),
			BuildRetryDelay:   viper.GetDuration("path.build_retry_delay"),
			MaxBuildBackoff:   viper.GetDuration("path.max_build_backoff"),
			EdgeBuildInterval: viper.GetDuration("path.edge_build_interval"),
		},
		Transit: TransitDefaults{
			MaxHops:             viper.GetInt("transit.max_hops"),
			MaxCommitsPerMinute: viper.GetInt("transit.max_commits_per_minute"),
			CommitBurst:         viper.GetInt("transit.commit_burst"),
			MaxClockSkew:        viper.GetDuration("transit.max_clock_skew"),
			ExpireInterval:      viper.GetDuration("transit.expire_interval"),
		},
		Worker: WorkerDefaults{
			Count:     viper.GetInt("worker.count"),
			QueueSize: viper.GetInt("worker.queue_size"),
		},
		Profiling: ProfilingDefaults{
			Enabled: viper.GetBool("profiling.enabled"),
			Path:    viper.GetString("profiling.path"),
		},
		Metrics: MetricsDefaults{
			Enabled: viper.GetBool("metrics.enabled"),
			Address: viper.GetString("metrics.address"),
		},
		Clock: ClockDefaults{
			NTPEnabled:   viper.GetBool("clock.ntp_enabled"),
			Servers:      viper.GetStringSlice("clock.servers"),
			SyncInterval: viper.GetDuration("clock.sync_interval"),
		},
	}
}

func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.Wrapf(err, "create config directory %s", dir)
	}
	file := filepath.Join(dir, "config.yaml")
	if err := viper.SafeWriteConfigAs(file); err != nil {
		return oops.Wrapf(err, "write default config %s", file)
	}
	log.WithField("path", file).Debug("created default configuration")
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithField("path", viper.ConfigFileUsed()).Debug("using config file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		if CfgFile != "" && !util.CheckFileExists(CfgFile) {
			return oops.Errorf("config file %s not found", CfgFile)
		}
		return oops.Wrapf(err, "read config")
	}
	if CfgFile != "" {
		return oops.Errorf("config file %s not found", CfgFile)
	}
	return createDefaultConfig(BuildDirPath())
}
