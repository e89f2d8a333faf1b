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
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
	"github.com/llm-d/llm-d-serve-control/internal/metrics"
)

// Controller runs the periodic autoscaling loop of one deployment. Each tick
// samples the deployment's load, feeds it to the Policy and hands a changed
// target to the ScaleActuator. Ticks never overlap: a tick that comes due
// while an evaluation is still running is dropped.
type Controller struct {
	deployment string
	sampler    interfaces.LoadSampler
	actuator   interfaces.ScaleActuator
	period     time.Duration
	clock      clock.WithTicker
	emitter    *metrics.MetricsEmitter

	mu            sync.Mutex
	policy        *Policy
	state         v1alpha1.AutoscalingState
	startReplicas int
	currentTarget int
	// appliedTarget is the last target the actuator accepted.
	appliedTarget int
	skippedTicks  int
	status        v1alpha1.AutoscalingStatus
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTickerClock overrides the clock driving the control loop.
func WithTickerClock(c clock.WithTicker) ControllerOption {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// WithStartReplicas sets the replica count running before the first tick.
// Bring-up clamps it into the initial bounds and only actuates when that
// changes it.
func WithStartReplicas(n int) ControllerOption {
	return func(ctl *Controller) {
		ctl.startReplicas = n
	}
}

// NewController creates a controller for deployment. The policy is owned by
// the controller from here on.
func NewController(deployment string, policy *Policy, sampler interfaces.LoadSampler,
	actuator interfaces.ScaleActuator, period time.Duration, opts ...ControllerOption) (*Controller, error) {
	if policy == nil || sampler == nil || actuator == nil {
		return nil, fmt.Errorf("controller for %q requires a policy, a sampler and an actuator", deployment)
	}
	if period <= 0 {
		return nil, fmt.Errorf("control loop period must be positive, got %s", period)
	}
	c := &Controller{
		deployment: deployment,
		sampler:    sampler,
		actuator:   actuator,
		period:     period,
		clock:      clock.RealClock{},
		emitter:    metrics.NewMetricsEmitter(),
		policy:     policy,
		state:      v1alpha1.StateNotStarted,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.appliedTarget = c.startReplicas
	c.status = v1alpha1.AutoscalingStatus{
		Deployment: deployment,
		State:      v1alpha1.StateNotStarted,
	}
	return c, nil
}

// Start runs the control loop until ctx is done. The first evaluation runs
// immediately and brings the deployment up.
func (c *Controller) Start(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx).WithValues("deployment", c.deployment)
	ctx = ctrl.LoggerInto(ctx, logger)
	logger.Info("Starting autoscaling controller", "period", c.period)

	ticker := c.clock.NewTicker(c.period)
	defer ticker.Stop()

	c.runTick(ctx, ticker)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping autoscaling controller")
			return nil
		case <-ticker.C():
			c.runTick(ctx, ticker)
		}
	}
}

func (c *Controller) runTick(ctx context.Context, ticker clock.Ticker) {
	logger := ctrl.LoggerFrom(ctx)
	start := c.clock.Now()
	if err := c.Tick(ctx); err != nil {
		logger.Error(err, "Control tick failed")
	}

	elapsed := c.clock.Since(start)
	if elapsed <= c.period {
		return
	}
	select {
	case <-ticker.C():
		c.mu.Lock()
		c.skippedTicks++
		c.mu.Unlock()
		metrics.RecordSkippedTick(c.deployment)
		logger.Info("Skipped control tick, evaluation overran the period", "elapsed", elapsed, "period", c.period)
	default:
	}
}

// Tick runs a single evaluation. The first call brings the deployment up;
// later calls sample load and run the policy.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == v1alpha1.StateNotStarted {
		return c.bringUp(ctx)
	}

	logger := ctrl.LoggerFrom(ctx)
	snapshot, err := c.sampler.Sample(ctx, c.deployment)
	if err != nil {
		c.setCondition(v1alpha1.TypeMetricsAvailable, metav1.ConditionFalse, v1alpha1.ReasonSamplerError, err.Error())
		return fmt.Errorf("failed to sample load for %s: %w", c.deployment, err)
	}
	c.setCondition(v1alpha1.TypeMetricsAvailable, metav1.ConditionTrue, v1alpha1.ReasonMetricsFound,
		fmt.Sprintf("sampled %d replicas", len(snapshot.Replicas)))

	c.mu.Lock()
	prev := c.currentTarget
	next := c.policy.OnControlTick(prev, snapshot.OngoingPerReplica(), snapshot.QueuedAtRouter)
	counter := c.policy.DecisionCounter()
	c.status.LastRunTime = metav1.NewTime(c.clock.Now())

	reason := ""
	switch {
	case next == prev:
		if next == 0 {
			c.state = v1alpha1.StateScaledToZero
		} else {
			c.state = v1alpha1.StateSteady
		}
	case prev == 0:
		reason = v1alpha1.ReasonScaleFromZero
		c.state = v1alpha1.StateBringingUp
	case next > prev:
		reason = v1alpha1.ReasonScaleUp
		c.state = v1alpha1.StateSteady
	case next == 0:
		reason = v1alpha1.ReasonScaleDown
		c.state = v1alpha1.StateScaledToZero
	default:
		reason = v1alpha1.ReasonScaleDown
		c.state = v1alpha1.StateSteady
	}
	c.currentTarget = next
	if reason != "" {
		c.recordDecisionLocked(prev, next, reason)
	}
	c.mu.Unlock()

	metrics.SetDecisionCounter(c.deployment, counter)
	c.emitter.EmitReplicaMetrics(c.deployment, len(snapshot.Replicas), next)
	logger.V(logging.DEBUG).Info("Control tick evaluated",
		"replicas", len(snapshot.Replicas), "queued", snapshot.QueuedAtRouter,
		"currentTarget", prev, "nextTarget", next, "decisionCounter", counter)

	return c.actuate(ctx, reason)
}

func (c *Controller) bringUp(ctx context.Context) error {
	c.mu.Lock()
	prev := c.startReplicas
	next := c.policy.ApplyInitialBounds(prev)
	c.state = v1alpha1.StateBringingUp
	c.status.LastRunTime = metav1.NewTime(c.clock.Now())
	c.currentTarget = next
	if next != prev {
		c.recordDecisionLocked(prev, next, v1alpha1.ReasonInitialBounds)
	}
	c.mu.Unlock()

	ctrl.LoggerFrom(ctx).Info("Bringing deployment up", "startReplicas", prev, "target", next)
	c.emitter.EmitReplicaMetrics(c.deployment, prev, next)
	return c.actuate(ctx, v1alpha1.ReasonInitialBounds)
}

func (c *Controller) recordDecisionLocked(prev, next int, reason string) {
	c.status.LastDecision = v1alpha1.LastDecisionInfo{
		UpdateTime:         c.status.LastRunTime,
		NumReplicasChanged: int32(next - prev),
		Reason:             reason,
	}
}

// actuate hands the current target to the actuator when it differs from the
// last accepted one, so a failed actuation is retried on the next tick.
func (c *Controller) actuate(ctx context.Context, reason string) error {
	c.mu.Lock()
	target := c.currentTarget
	if target == c.appliedTarget {
		c.mu.Unlock()
		return nil
	}
	current := c.appliedTarget
	if reason == "" {
		reason = c.status.LastDecision.Reason
	}
	decision := interfaces.ScalingDecision{
		Deployment:      c.deployment,
		CurrentReplicas: current,
		TargetReplicas:  target,
		Reason:          reason,
		State:           c.state,
	}
	c.mu.Unlock()

	if err := c.actuator.ApplyDecision(ctx, decision); err != nil {
		c.setCondition(v1alpha1.TypeScalingActive, metav1.ConditionFalse, v1alpha1.ReasonActuationFailed, err.Error())
		return fmt.Errorf("failed to apply scaling decision for %s: %w", c.deployment, err)
	}

	c.mu.Lock()
	c.appliedTarget = target
	c.mu.Unlock()
	c.setCondition(v1alpha1.TypeScalingActive, metav1.ConditionTrue, v1alpha1.ReasonDecisionApplied,
		fmt.Sprintf("target set to %d replicas", target))
	c.emitter.EmitScalingDecision(c.deployment, decision.Direction(), reason)
	ctrl.LoggerFrom(ctx).Info("Applied scaling decision",
		"from", decision.CurrentReplicas, "to", target, "reason", reason, "state", decision.State)
	return nil
}

func (c *Controller) setCondition(condType string, status metav1.ConditionStatus, reason, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta.SetStatusCondition(&c.status.Conditions, metav1.Condition{
		Type:               condType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: metav1.NewTime(c.clock.Now()),
	})
}

// SetTargetCapacity forwards a fleet-wide capacity change to the policy. The
// new bounds apply from the next tick.
func (c *Controller) SetTargetCapacity(capacity *float64, direction *v1alpha1.TargetCapacityDirection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.SetTargetCapacity(capacity, direction)
}

// CurrentTarget returns the replica count the deployment is scaling to.
func (c *Controller) CurrentTarget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTarget
}

// State returns the autoscaling state.
func (c *Controller) State() v1alpha1.AutoscalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SkippedTicks returns how many ticks were dropped because an evaluation
// overran the period.
func (c *Controller) SkippedTicks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skippedTicks
}

// Status returns a snapshot of the controller's status.
func (c *Controller) Status() v1alpha1.AutoscalingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.status
	out.State = c.state
	out.CurrentTarget = int32(c.currentTarget)
	out.Conditions = append([]metav1.Condition(nil), c.status.Conditions...)
	return out
}
