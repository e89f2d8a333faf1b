package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
)

const (
	// DefaultDeploymentScalingConfigMapName is the default name of the ConfigMap
	// that stores per-deployment autoscaling configuration.
	DefaultDeploymentScalingConfigMapName = "serve-autoscaling-config"

	// GlobalDefaultsKey is the ConfigMap key holding defaults for every deployment.
	GlobalDefaultsKey = "default"
)

// DeploymentScalingConfig is one ConfigMap entry. Unset fields inherit from
// the global defaults entry, then from v1alpha1.DefaultAutoscalingConfig.
type DeploymentScalingConfig struct {
	// Deployment names the deployment this entry overrides (only used in
	// override entries).
	Deployment string `yaml:"deployment,omitempty" json:"deployment,omitempty"`

	MinReplicas                     *int     `yaml:"minReplicas,omitempty" json:"minReplicas,omitempty"`
	MaxReplicas                     *int     `yaml:"maxReplicas,omitempty" json:"maxReplicas,omitempty"`
	InitialReplicas                 *int     `yaml:"initialReplicas,omitempty" json:"initialReplicas,omitempty"`
	TargetOngoingRequestsPerReplica *float64 `yaml:"targetOngoingRequestsPerReplica,omitempty" json:"targetOngoingRequestsPerReplica,omitempty"`
	SmoothingFactor                 *float64 `yaml:"smoothingFactor,omitempty" json:"smoothingFactor,omitempty"`
	UpscaleSmoothingFactor          *float64 `yaml:"upscaleSmoothingFactor,omitempty" json:"upscaleSmoothingFactor,omitempty"`
	DownscaleSmoothingFactor        *float64 `yaml:"downscaleSmoothingFactor,omitempty" json:"downscaleSmoothingFactor,omitempty"`
	UpscaleDelaySeconds             *float64 `yaml:"upscaleDelaySeconds,omitempty" json:"upscaleDelaySeconds,omitempty"`
	DownscaleDelaySeconds           *float64 `yaml:"downscaleDelaySeconds,omitempty" json:"downscaleDelaySeconds,omitempty"`
	MetricsIntervalSeconds          *float64 `yaml:"metricsIntervalSeconds,omitempty" json:"metricsIntervalSeconds,omitempty"`
	LookBackPeriodSeconds           *float64 `yaml:"lookBackPeriodSeconds,omitempty" json:"lookBackPeriodSeconds,omitempty"`
}

// ApplyTo returns base with every field set in c overriding it.
func (c DeploymentScalingConfig) ApplyTo(base v1alpha1.AutoscalingConfig) v1alpha1.AutoscalingConfig {
	out := base
	setIfPresent(&out.MinReplicas, c.MinReplicas)
	setIfPresent(&out.MaxReplicas, c.MaxReplicas)
	if c.InitialReplicas != nil {
		v := *c.InitialReplicas
		out.InitialReplicas = &v
	}
	setIfPresent(&out.TargetOngoingRequestsPerReplica, c.TargetOngoingRequestsPerReplica)
	setIfPresent(&out.SmoothingFactor, c.SmoothingFactor)
	if c.UpscaleSmoothingFactor != nil {
		v := *c.UpscaleSmoothingFactor
		out.UpscaleSmoothingFactor = &v
	}
	if c.DownscaleSmoothingFactor != nil {
		v := *c.DownscaleSmoothingFactor
		out.DownscaleSmoothingFactor = &v
	}
	setIfPresent(&out.UpscaleDelaySeconds, c.UpscaleDelaySeconds)
	setIfPresent(&out.DownscaleDelaySeconds, c.DownscaleDelaySeconds)
	setIfPresent(&out.MetricsIntervalSeconds, c.MetricsIntervalSeconds)
	setIfPresent(&out.LookBackPeriodSeconds, c.LookBackPeriodSeconds)
	return out
}

func setIfPresent[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// DeploymentScalingConfigData holds the parsed entries keyed by deployment
// name, plus GlobalDefaultsKey.
type DeploymentScalingConfigData map[string]DeploymentScalingConfig

// ParseDeploymentScalingConfigMap parses autoscaling configuration from a
// ConfigMap's data. The ConfigMap format:
//   - "default": global defaults for all deployments
//   - "<override-name>": per-deployment configuration with a deployment field
//
// Entries that fail to parse, lack a deployment field, or do not validate
// once merged over the defaults are skipped. Keys are processed in sorted
// order and the first key naming a deployment wins.
func ParseDeploymentScalingConfigMap(data map[string]string) DeploymentScalingConfigData {
	out := make(DeploymentScalingConfigData)
	if data == nil {
		return out
	}

	base := v1alpha1.DefaultAutoscalingConfig()
	if raw, ok := data[GlobalDefaultsKey]; ok {
		var defaults DeploymentScalingConfig
		if err := yaml.Unmarshal([]byte(raw), &defaults); err != nil {
			ctrl.Log.Info("Failed to parse default autoscaling config, using built-in defaults", "error", err)
		} else if merged := defaults.ApplyTo(base); merged.Validate() != nil {
			ctrl.Log.Info("Invalid default autoscaling config, using built-in defaults", "error", merged.Validate())
		} else {
			out[GlobalDefaultsKey] = defaults
			base = merged
		}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		if k != GlobalDefaultsKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	deploymentToKey := make(map[string]string)
	for _, key := range keys {
		var config DeploymentScalingConfig
		if err := yaml.Unmarshal([]byte(data[key]), &config); err != nil {
			ctrl.Log.Info("Failed to parse autoscaling config entry, skipping",
				"key", key,
				"error", err)
			continue
		}

		if config.Deployment == "" {
			ctrl.Log.Info("Skipping autoscaling config without deployment field",
				"key", key)
			continue
		}

		merged := config.ApplyTo(base)
		if err := merged.Validate(); err != nil {
			ctrl.Log.Info("Invalid autoscaling config entry, skipping",
				"key", key,
				"error", err)
			continue
		}

		if winningKey, exists := deploymentToKey[config.Deployment]; exists {
			ctrl.Log.Info("Duplicate deployment found in autoscaling ConfigMap - first key wins",
				"deployment", config.Deployment,
				"winningKey", winningKey,
				"duplicateKey", key)
			continue
		}
		deploymentToKey[config.Deployment] = key

		out[config.Deployment] = config
	}

	ctrl.Log.V(logging.DEBUG).Info("Parsed autoscaling config",
		"deploymentCount", len(deploymentToKey))

	return out
}

// GetDeploymentConfig returns the effective configuration for a deployment:
// built-in defaults, overridden by the global defaults entry, overridden by
// the deployment's own entry.
func (data DeploymentScalingConfigData) GetDeploymentConfig(deployment string) (v1alpha1.AutoscalingConfig, error) {
	result := data[GlobalDefaultsKey].ApplyTo(v1alpha1.DefaultAutoscalingConfig())
	if override, ok := data[deployment]; ok && deployment != GlobalDefaultsKey {
		result = override.ApplyTo(result)
	}
	if err := result.Validate(); err != nil {
		return v1alpha1.AutoscalingConfig{}, fmt.Errorf("autoscaling config for %s: %w", deployment, err)
	}
	return result, nil
}

// Deployments returns the names of the deployments with their own entry, sorted.
func (data DeploymentScalingConfigData) Deployments() []string {
	names := make([]string, 0, len(data))
	for name := range data {
		if name != GlobalDefaultsKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
