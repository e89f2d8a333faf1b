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

package autoscaler

import (
	"fmt"
	"math"
	"time"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
)

// DesiredReplicas returns the replica count that brings the average number
// of ongoing requests per replica to the configured target, clamped to
// [minBound, maxBound]. ongoing holds one time-averaged value per running
// replica and must not be empty; the zero-replica case is handled by the
// caller.
func DesiredReplicas(cfg *v1alpha1.AutoscalingConfig, ongoing []float64, minBound, maxBound int) int {
	current := len(ongoing)
	if current == 0 {
		panic("autoscaler: cannot compute desired replicas from zero replicas")
	}

	var sum float64
	for _, v := range ongoing {
		sum += v
	}
	errorRatio := (sum / float64(current)) / cfg.TargetOngoingRequestsPerReplica

	smoothing := cfg.GetDownscaleSmoothingFactor()
	if errorRatio >= 1 {
		smoothing = cfg.GetUpscaleSmoothingFactor()
	}
	smoothedRatio := 1 + (errorRatio-1)*smoothing
	desired := int(math.Ceil(float64(current) * smoothedRatio))

	// Without load, rounding up would pin the deployment at its current size.
	if errorRatio == 0 && desired == current && desired >= 1 {
		desired--
	}

	return max(minBound, min(maxBound, desired))
}

// Policy holds the per-deployment decision state: the hysteresis counter and
// the optional fleet-wide target capacity. It is not safe for concurrent use;
// each Controller owns one.
type Policy struct {
	config v1alpha1.AutoscalingConfig

	upscalePeriods   int
	downscalePeriods int

	// decisionCounter counts consecutive scale-up (positive) or scale-down
	// (negative) decisions.
	decisionCounter int

	targetCapacity          *float64
	targetCapacityDirection *v1alpha1.TargetCapacityDirection
}

// NewPolicy validates cfg and derives the hysteresis thresholds from the
// control-loop period.
func NewPolicy(cfg v1alpha1.AutoscalingConfig, period time.Duration) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("control loop period must be positive, got %s", period)
	}
	return &Policy{
		config:           cfg,
		upscalePeriods:   consecutivePeriods(cfg.UpscaleDelaySeconds, period),
		downscalePeriods: consecutivePeriods(cfg.DownscaleDelaySeconds, period),
	}, nil
}

func consecutivePeriods(delaySeconds float64, period time.Duration) int {
	return int(math.Ceil(delaySeconds/period.Seconds() - 1e-9))
}

// Config returns the policy configuration.
func (p *Policy) Config() v1alpha1.AutoscalingConfig {
	return p.config
}

// DecisionCounter returns the current hysteresis counter.
func (p *Policy) DecisionCounter() int {
	return p.decisionCounter
}

// OnControlTick runs one evaluation and returns the target replica count for
// the next period, which equals currentTarget unless a decision was emitted.
func (p *Policy) OnControlTick(currentTarget int, ongoing []float64, queuedAtRouter int) int {
	if currentTarget == 0 {
		// Replicas still draining after a scale to zero do not count.
		if queuedAtRouter > 0 {
			return max(int(math.Ceil(1*p.config.GetUpscaleSmoothingFactor())), currentTarget)
		}
		return currentTarget
	}
	if len(ongoing) == 0 {
		return currentTarget
	}

	decision := currentTarget
	desired := DesiredReplicas(&p.config, ongoing, p.CurrentLowerBound(), p.CapacityAdjustedMaxReplicas())
	switch {
	case desired > currentTarget:
		if p.decisionCounter < 0 {
			p.decisionCounter = 0
		}
		p.decisionCounter++
		if p.decisionCounter > p.upscalePeriods {
			p.decisionCounter = 0
			decision = desired
		}
	case desired < currentTarget:
		if p.decisionCounter > 0 {
			p.decisionCounter = 0
		}
		p.decisionCounter--
		if p.decisionCounter < -p.downscalePeriods {
			p.decisionCounter = 0
			decision = desired
		}
	default:
		p.decisionCounter = 0
	}
	return decision
}

// SetTargetCapacity sets the fleet-wide capacity fraction and its direction.
// Nil values clear them.
func (p *Policy) SetTargetCapacity(capacity *float64, direction *v1alpha1.TargetCapacityDirection) error {
	if capacity != nil {
		if err := v1alpha1.ValidateTargetCapacity(*capacity); err != nil {
			return err
		}
	}
	p.targetCapacity = capacity
	p.targetCapacityDirection = direction
	return nil
}

// CapacityAdjustedMinReplicas returns MinReplicas scaled by the target capacity.
func (p *Policy) CapacityAdjustedMinReplicas() int {
	return v1alpha1.CapacityAdjustedReplicas(p.config.MinReplicas, p.targetCapacity)
}

// CapacityAdjustedMaxReplicas returns MaxReplicas scaled by the target capacity.
func (p *Policy) CapacityAdjustedMaxReplicas() int {
	return v1alpha1.CapacityAdjustedReplicas(p.config.MaxReplicas, p.targetCapacity)
}

// CapacityAdjustedInitialReplicas returns InitialReplicas scaled by the target
// capacity, or nil when InitialReplicas is unset.
func (p *Policy) CapacityAdjustedInitialReplicas() *int {
	if p.config.InitialReplicas == nil {
		return nil
	}
	n := v1alpha1.CapacityAdjustedReplicas(*p.config.InitialReplicas, p.targetCapacity)
	return &n
}

// ApplyInitialBounds clamps a bring-up target. The floor is the initial
// replica count when it is set and capacity is rising or steady, otherwise
// the minimum.
func (p *Policy) ApplyInitialBounds(currentTarget int) int {
	lower := p.CapacityAdjustedMinReplicas()
	if initial := p.CapacityAdjustedInitialReplicas(); initial != nil &&
		(p.targetCapacityDirection == nil || *p.targetCapacityDirection == v1alpha1.TargetCapacityDirectionUp) {
		lower = *initial
	}
	return max(lower, min(p.CapacityAdjustedMaxReplicas(), currentTarget))
}

// CurrentLowerBound is the floor used on every tick after bring-up. The
// initial replica count applies only while capacity is rising.
func (p *Policy) CurrentLowerBound() int {
	if initial := p.CapacityAdjustedInitialReplicas(); initial != nil &&
		p.targetCapacityDirection != nil && *p.targetCapacityDirection == v1alpha1.TargetCapacityDirectionUp {
		return *initial
	}
	return p.CapacityAdjustedMinReplicas()
}
