/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1alpha1 contains the autoscaling policy configuration and the
// status types shared between the autoscaling controller and its consumers.
package v1alpha1

import (
	"errors"
	"fmt"
	"math"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ErrInvalidAutoscalingConfig is returned (wrapped) by Validate for any
// inconsistent autoscaling configuration.
var ErrInvalidAutoscalingConfig = errors.New("invalid autoscaling config")

// Defaults applied by DefaultAutoscalingConfig.
const (
	DefaultMinReplicas                     = 1
	DefaultMaxReplicas                     = 1
	DefaultTargetOngoingRequestsPerReplica = 1.0
	DefaultSmoothingFactor                 = 1.0
	DefaultUpscaleDelaySeconds             = 30.0
	DefaultDownscaleDelaySeconds           = 600.0
	DefaultMetricsIntervalSeconds          = 10.0
	DefaultLookBackPeriodSeconds           = 30.0
)

// TargetCapacityDirection is the direction in which a fleet-wide target
// capacity is currently moving.
type TargetCapacityDirection string

const (
	// TargetCapacityDirectionUp means the fleet capacity is being raised.
	TargetCapacityDirectionUp TargetCapacityDirection = "UP"
	// TargetCapacityDirectionDown means the fleet capacity is being lowered.
	TargetCapacityDirectionDown TargetCapacityDirection = "DOWN"
)

// AutoscalingConfig is the policy configuration for a single deployment.
// It is read-only to the controller during one evaluation.
type AutoscalingConfig struct {
	// MinReplicas is the lower replica bound. Zero enables scale-to-zero.
	// +kubebuilder:validation:Minimum=0
	MinReplicas int `yaml:"minReplicas" json:"minReplicas"`

	// MaxReplicas is the upper replica bound.
	// +kubebuilder:validation:Minimum=0
	MaxReplicas int `yaml:"maxReplicas" json:"maxReplicas"`

	// InitialReplicas is the replica floor used while bringing a deployment up.
	// +optional
	InitialReplicas *int `yaml:"initialReplicas,omitempty" json:"initialReplicas,omitempty"`

	// TargetOngoingRequestsPerReplica is the average number of ongoing requests
	// per replica the controller tries to maintain.
	TargetOngoingRequestsPerReplica float64 `yaml:"targetOngoingRequestsPerReplica" json:"targetOngoingRequestsPerReplica"`

	// SmoothingFactor is the fallback gain for both directions when the
	// directional factors are not set.
	SmoothingFactor float64 `yaml:"smoothingFactor,omitempty" json:"smoothingFactor,omitempty"`

	// UpscaleSmoothingFactor multiplies the scale-up error ratio.
	// +optional
	UpscaleSmoothingFactor *float64 `yaml:"upscaleSmoothingFactor,omitempty" json:"upscaleSmoothingFactor,omitempty"`

	// DownscaleSmoothingFactor multiplies the scale-down error ratio.
	// +optional
	DownscaleSmoothingFactor *float64 `yaml:"downscaleSmoothingFactor,omitempty" json:"downscaleSmoothingFactor,omitempty"`

	// UpscaleDelaySeconds is how long a scale-up decision must persist before
	// it is emitted.
	UpscaleDelaySeconds float64 `yaml:"upscaleDelaySeconds" json:"upscaleDelaySeconds"`

	// DownscaleDelaySeconds is how long a scale-down decision must persist
	// before it is emitted.
	DownscaleDelaySeconds float64 `yaml:"downscaleDelaySeconds" json:"downscaleDelaySeconds"`

	// MetricsIntervalSeconds is how often load samples are recorded.
	MetricsIntervalSeconds float64 `yaml:"metricsIntervalSeconds,omitempty" json:"metricsIntervalSeconds,omitempty"`

	// LookBackPeriodSeconds is the window over which ongoing requests are averaged.
	LookBackPeriodSeconds float64 `yaml:"lookBackPeriodSeconds,omitempty" json:"lookBackPeriodSeconds,omitempty"`
}

// DefaultAutoscalingConfig returns a config populated with the package defaults.
func DefaultAutoscalingConfig() AutoscalingConfig {
	return AutoscalingConfig{
		MinReplicas:                     DefaultMinReplicas,
		MaxReplicas:                     DefaultMaxReplicas,
		TargetOngoingRequestsPerReplica: DefaultTargetOngoingRequestsPerReplica,
		SmoothingFactor:                 DefaultSmoothingFactor,
		UpscaleDelaySeconds:             DefaultUpscaleDelaySeconds,
		DownscaleDelaySeconds:           DefaultDownscaleDelaySeconds,
		MetricsIntervalSeconds:          DefaultMetricsIntervalSeconds,
		LookBackPeriodSeconds:           DefaultLookBackPeriodSeconds,
	}
}

// Validate checks the config for inconsistent bounds and non-positive targets.
// All returned errors wrap ErrInvalidAutoscalingConfig.
func (c *AutoscalingConfig) Validate() error {
	if c.MinReplicas < 0 {
		return fmt.Errorf("%w: minReplicas must be >= 0, got %d", ErrInvalidAutoscalingConfig, c.MinReplicas)
	}
	if c.MaxReplicas < 0 {
		return fmt.Errorf("%w: maxReplicas must be >= 0, got %d", ErrInvalidAutoscalingConfig, c.MaxReplicas)
	}
	if c.MinReplicas > c.MaxReplicas {
		return fmt.Errorf("%w: minReplicas (%d) must be <= maxReplicas (%d)",
			ErrInvalidAutoscalingConfig, c.MinReplicas, c.MaxReplicas)
	}
	if c.InitialReplicas != nil {
		if *c.InitialReplicas < c.MinReplicas || *c.InitialReplicas > c.MaxReplicas {
			return fmt.Errorf("%w: initialReplicas (%d) must be within [%d, %d]",
				ErrInvalidAutoscalingConfig, *c.InitialReplicas, c.MinReplicas, c.MaxReplicas)
		}
	}
	if c.TargetOngoingRequestsPerReplica <= 0 {
		return fmt.Errorf("%w: targetOngoingRequestsPerReplica must be > 0, got %.2f",
			ErrInvalidAutoscalingConfig, c.TargetOngoingRequestsPerReplica)
	}
	if c.SmoothingFactor < 0 {
		return fmt.Errorf("%w: smoothingFactor must be >= 0, got %.2f", ErrInvalidAutoscalingConfig, c.SmoothingFactor)
	}
	if c.UpscaleSmoothingFactor != nil && *c.UpscaleSmoothingFactor <= 0 {
		return fmt.Errorf("%w: upscaleSmoothingFactor must be > 0, got %.2f",
			ErrInvalidAutoscalingConfig, *c.UpscaleSmoothingFactor)
	}
	if c.DownscaleSmoothingFactor != nil && *c.DownscaleSmoothingFactor <= 0 {
		return fmt.Errorf("%w: downscaleSmoothingFactor must be > 0, got %.2f",
			ErrInvalidAutoscalingConfig, *c.DownscaleSmoothingFactor)
	}
	if c.UpscaleDelaySeconds < 0 || c.DownscaleDelaySeconds < 0 {
		return fmt.Errorf("%w: upscale/downscale delays must be >= 0, got %.1f/%.1f",
			ErrInvalidAutoscalingConfig, c.UpscaleDelaySeconds, c.DownscaleDelaySeconds)
	}
	if c.MetricsIntervalSeconds < 0 || c.LookBackPeriodSeconds < 0 {
		return fmt.Errorf("%w: metrics interval and look-back period must be >= 0", ErrInvalidAutoscalingConfig)
	}
	return nil
}

// GetUpscaleSmoothingFactor returns the upscale factor, falling back to
// SmoothingFactor and then to 1.0.
func (c *AutoscalingConfig) GetUpscaleSmoothingFactor() float64 {
	if c.UpscaleSmoothingFactor != nil {
		return *c.UpscaleSmoothingFactor
	}
	return c.smoothingFactorOrDefault()
}

// GetDownscaleSmoothingFactor returns the downscale factor, falling back to
// SmoothingFactor and then to 1.0.
func (c *AutoscalingConfig) GetDownscaleSmoothingFactor() float64 {
	if c.DownscaleSmoothingFactor != nil {
		return *c.DownscaleSmoothingFactor
	}
	return c.smoothingFactorOrDefault()
}

func (c *AutoscalingConfig) smoothingFactorOrDefault() float64 {
	if c.SmoothingFactor > 0 {
		return c.SmoothingFactor
	}
	return DefaultSmoothingFactor
}

// ValidateTargetCapacity checks that a fleet target capacity lies in [0, 1].
func ValidateTargetCapacity(capacity float64) error {
	if math.IsNaN(capacity) || capacity < 0 || capacity > 1 {
		return fmt.Errorf("target capacity must be within [0, 1], got %v", capacity)
	}
	return nil
}

// CapacityAdjustedReplicas scales a raw replica count by the fleet target
// capacity, rounding up. A nil capacity returns raw unchanged.
func CapacityAdjustedReplicas(raw int, capacity *float64) int {
	if capacity == nil {
		return raw
	}
	// 1e-9 absorbs float error such as 10*0.3 = 3.0000000000000004.
	return int(math.Ceil(float64(raw)**capacity - 1e-9))
}

// AutoscalingState is the lifecycle state of a deployment's autoscaling.
type AutoscalingState string

const (
	// StateNotStarted means no replicas exist and no sampling happens yet.
	StateNotStarted AutoscalingState = "NotStarted"
	// StateBringingUp means the initial target was set from the initial bounds.
	StateBringingUp AutoscalingState = "BringingUp"
	// StateSteady means the controller evaluates load every control-loop period.
	StateSteady AutoscalingState = "Steady"
	// StateScaledToZero means the target is zero and only queued requests wake it.
	StateScaledToZero AutoscalingState = "ScaledToZero"
)

// AutoscalingStatus is an observability snapshot of one deployment's controller.
type AutoscalingStatus struct {
	// Deployment is the name of the deployment.
	Deployment string `json:"deployment"`

	// State is the current autoscaling state.
	State AutoscalingState `json:"state"`

	// CurrentTarget is the replica count the deployment is scaling to.
	// +kubebuilder:validation:Minimum=0
	CurrentTarget int32 `json:"currentTarget"`

	// LastRunTime is the timestamp of the last control tick.
	LastRunTime metav1.Time `json:"lastRunTime,omitempty"`

	// LastDecision tracks the last emitted scaling decision.
	// +optional
	LastDecision LastDecisionInfo `json:"lastDecision,omitempty"`

	// Conditions represent the latest available observations of the controller's state.
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// LastDecisionInfo records when the target changed, by how much and why.
type LastDecisionInfo struct {
	// UpdateTime is when the target last changed.
	UpdateTime metav1.Time `json:"updateTime,omitempty"`

	// NumReplicasChanged is the delta between the new and previous target.
	NumReplicasChanged int32 `json:"numReplicasChanged"`

	// Reason is a human-readable explanation for the decision.
	Reason string `json:"reason,omitempty"`
}

// Condition types for AutoscalingStatus
const (
	// TypeMetricsAvailable indicates whether load samples could be collected
	TypeMetricsAvailable = "MetricsAvailable"
	// TypeScalingActive indicates whether decisions reach the actuator
	TypeScalingActive = "ScalingActive"
)

// Condition reasons
const (
	ReasonMetricsFound     = "MetricsFound"
	ReasonSamplerError     = "SamplerError"
	ReasonDecisionApplied  = "DecisionApplied"
	ReasonActuationFailed  = "ActuationFailed"
	ReasonScaleFromZero    = "ScaleFromZero"
	ReasonScaleUp          = "ScaleUp"
	ReasonScaleDown        = "ScaleDown"
	ReasonInitialBounds    = "InitialBounds"
	ReasonCapacityAdjusted = "CapacityAdjusted"
)
