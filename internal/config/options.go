package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/llm-d/llm-d-serve-control/internal/logging"
)

const (
	// EnvPrefix prefixes environment variables overriding flags, e.g.
	// SERVE_CONTROL_LOOP_PERIOD for --control-loop-period.
	EnvPrefix = "SERVE"

	DefaultControlLoopPeriod = 10 * time.Second
	DefaultLookBackPeriod    = 30 * time.Second

	ZapLogLevelFlagName = "zap-log-level"
)

// Options contains the process configuration of the autoscaler binary.
// Values come from flags, SERVE_* environment variables and an optional
// YAML config file, in that order of precedence.
type Options struct {
	//
	// Manager.
	//
	MetricsBindAddress     string // Address the /metrics endpoint binds to.
	HealthProbeBindAddress string // Address the health probes bind to.
	LeaderElect            bool   // Enables leader election.
	//
	// Autoscaling.
	//
	Namespace         string        // Namespace of the managed Deployments and the ConfigMap.
	ConfigMapName     string        // ConfigMap holding per-deployment autoscaling config.
	ControlLoopPeriod time.Duration // Period of each deployment's control loop.
	LookBackPeriod    time.Duration // Window per-replica load is averaged over.
	DirectScaling     bool          // Patch Deployment replicas in addition to emitting metrics.
	//
	// Prometheus.
	//
	PrometheusAddress string // Base URL of the Prometheus HTTP API.
	//
	// Diagnostics.
	//
	LogVerbosity int         // Number for the log level verbosity.
	ZapOptions   zap.Options // Zap logging options.
	ConfigFile   string      // Optional YAML file with option values.

	// internal
	fs *pflag.FlagSet
}

// NewOptions returns Options initialized with default values.
func NewOptions() *Options {
	return &Options{
		MetricsBindAddress:     ":8443",
		HealthProbeBindAddress: ":8081",
		Namespace:              "default",
		ConfigMapName:          DefaultDeploymentScalingConfigMapName,
		ControlLoopPeriod:      DefaultControlLoopPeriod,
		LookBackPeriod:         DefaultLookBackPeriod,
		PrometheusAddress:      "http://prometheus-operated:9090",
		LogVerbosity:           logging.DEFAULT,
		ZapOptions:             zap.Options{Development: true},
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVar(&opts.MetricsBindAddress, "metrics-bind-address", opts.MetricsBindAddress,
		"The address the metrics endpoint binds to. Use 0 to disable it.")
	fs.StringVar(&opts.HealthProbeBindAddress, "health-probe-bind-address", opts.HealthProbeBindAddress,
		"The address the probe endpoint binds to.")
	fs.BoolVar(&opts.LeaderElect, "leader-elect", opts.LeaderElect,
		"Enable leader election so that only one autoscaler is active.")
	fs.StringVar(&opts.Namespace, "namespace", opts.Namespace,
		"Namespace of the managed Deployments and the autoscaling ConfigMap.")
	fs.StringVar(&opts.ConfigMapName, "config-map", opts.ConfigMapName,
		"Name of the ConfigMap holding per-deployment autoscaling config.")
	fs.DurationVar(&opts.ControlLoopPeriod, "control-loop-period", opts.ControlLoopPeriod,
		"Period of each deployment's control loop.")
	fs.DurationVar(&opts.LookBackPeriod, "look-back-period", opts.LookBackPeriod,
		"Window over which per-replica ongoing requests are averaged.")
	fs.BoolVar(&opts.DirectScaling, "direct-scaling", opts.DirectScaling,
		"Patch Deployment replicas directly in addition to emitting desired-replica metrics.")
	fs.StringVar(&opts.PrometheusAddress, "prometheus-address", opts.PrometheusAddress,
		"Base URL of the Prometheus HTTP API.")
	fs.StringVar(&opts.ConfigFile, "config-file", opts.ConfigFile,
		"Optional YAML file with option values, keyed by flag name.")
	fs.IntVarP(&opts.LogVerbosity, "v", "v", opts.LogVerbosity,
		"Number for the log level verbosity.")

	// zap expects a standard Go FlagSet.
	gofs := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.ZapOptions.BindFlags(gofs)
	fs.AddGoFlagSet(gofs)
}

// Complete layers environment variables and the config file under the parsed
// flags and derives the zap level from -v.
func (opts *Options) Complete() error {
	if opts.fs == nil {
		return fmt.Errorf("options are not bound to a flag set")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(opts.fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	opts.MetricsBindAddress = v.GetString("metrics-bind-address")
	opts.HealthProbeBindAddress = v.GetString("health-probe-bind-address")
	opts.LeaderElect = v.GetBool("leader-elect")
	opts.Namespace = v.GetString("namespace")
	opts.ConfigMapName = v.GetString("config-map")
	opts.ControlLoopPeriod = v.GetDuration("control-loop-period")
	opts.LookBackPeriod = v.GetDuration("look-back-period")
	opts.DirectScaling = v.GetBool("direct-scaling")
	opts.PrometheusAddress = v.GetString("prometheus-address")
	opts.LogVerbosity = v.GetInt("v")

	// Derive the zap log level from the -v flag when --zap-log-level is not set explicitly.
	zapLogLevelFlag := opts.fs.Lookup(ZapLogLevelFlagName)
	if zapLogLevelFlag != nil && !zapLogLevelFlag.Changed {
		lvl := -1 * opts.LogVerbosity
		opts.ZapOptions.Level = uberzap.NewAtomicLevelAt(zapcore.Level(int8(lvl)))
	}
	return nil
}

// Validate checks the Options for invalid or conflicting values.
func (opts *Options) Validate() error {
	if opts.ControlLoopPeriod <= 0 {
		return fmt.Errorf("invalid value %s for flag %q: must be positive", opts.ControlLoopPeriod, "control-loop-period")
	}
	if opts.LookBackPeriod <= 0 {
		return fmt.Errorf("invalid value %s for flag %q: must be positive", opts.LookBackPeriod, "look-back-period")
	}
	if opts.Namespace == "" {
		return fmt.Errorf("flag %q must not be empty", "namespace")
	}
	if opts.ConfigMapName == "" {
		return fmt.Errorf("flag %q must not be empty", "config-map")
	}
	if opts.PrometheusAddress == "" {
		return fmt.Errorf("flag %q must not be empty", "prometheus-address")
	}
	if opts.LogVerbosity < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", opts.LogVerbosity, "v")
	}
	return nil
}
