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

// Package serving runs the router and autoscaler of one deployment in a
// single process: the router takes queries, a RouterSampler averages its
// in-flight counts and a Controller turns those into replica targets.
package serving

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
	"github.com/llm-d/llm-d-serve-control/internal/autoscaler"
	"github.com/llm-d/llm-d-serve-control/internal/collector"
	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
	"github.com/llm-d/llm-d-serve-control/internal/registry"
	"github.com/llm-d/llm-d-serve-control/internal/router"
)

// Config describes one deployment.
type Config struct {
	Name              string
	Autoscaling       v1alpha1.AutoscalingConfig
	ControlLoopPeriod time.Duration

	// StartReplicas is the replica count already running.
	StartReplicas int

	// ExcludeEmbargoed keeps embargoed replicas out of the load average.
	ExcludeEmbargoed bool
}

// Deployment wires a Router, a RouterSampler and a Controller together.
type Deployment struct {
	name       string
	router     *router.Router
	sampler    *collector.RouterSampler
	controller *autoscaler.Controller
}

// Option configures a Deployment.
type Option func(*options)

type options struct {
	clock clock.WithTickerAndDelayedExecution
}

// WithClock sets the clock shared by the router, the sampler and the controller.
func WithClock(c clock.WithTickerAndDelayedExecution) Option {
	return func(o *options) {
		o.clock = c
	}
}

// NewDeployment builds the components of cfg.Name. Decisions go to actuator.
func NewDeployment(ctx context.Context, cfg Config, actuator interfaces.ScaleActuator, opts ...Option) (*Deployment, error) {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Autoscaling.Validate(); err != nil {
		return nil, fmt.Errorf("deployment %q: %w", cfg.Name, err)
	}

	policy, err := autoscaler.NewPolicy(cfg.Autoscaling, cfg.ControlLoopPeriod)
	if err != nil {
		return nil, fmt.Errorf("deployment %q: %w", cfg.Name, err)
	}

	r := router.NewRouter(ctx, cfg.Name, router.WithClock(o.clock))
	sampler, err := collector.NewRouterSampler(r, collector.RouterSamplerOptions{
		Interval:         secondsOr(cfg.Autoscaling.MetricsIntervalSeconds, v1alpha1.DefaultMetricsIntervalSeconds),
		LookBack:         secondsOr(cfg.Autoscaling.LookBackPeriodSeconds, v1alpha1.DefaultLookBackPeriodSeconds),
		ExcludeEmbargoed: cfg.ExcludeEmbargoed,
		Clock:            o.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("deployment %q: %w", cfg.Name, err)
	}

	controller, err := autoscaler.NewController(cfg.Name, policy, sampler, actuator, cfg.ControlLoopPeriod,
		autoscaler.WithTickerClock(o.clock), autoscaler.WithStartReplicas(cfg.StartReplicas))
	if err != nil {
		return nil, fmt.Errorf("deployment %q: %w", cfg.Name, err)
	}

	return &Deployment{
		name:       cfg.Name,
		router:     r,
		sampler:    sampler,
		controller: controller,
	}, nil
}

// Name returns the deployment name.
func (d *Deployment) Name() string {
	return d.name
}

// Router returns the deployment's router.
func (d *Deployment) Router() *router.Router {
	return d.router
}

// Controller returns the deployment's autoscaling controller.
func (d *Deployment) Controller() *autoscaler.Controller {
	return d.controller
}

// UpdateReplicas forwards a registry snapshot to the router.
func (d *Deployment) UpdateReplicas(handles []registry.ReplicaHandle) error {
	return d.router.UpdateReplicas(handles)
}

// Assign routes q to a replica of the deployment.
func (d *Deployment) Assign(ctx context.Context, q *interfaces.Query) (*router.Future, error) {
	return d.router.Assign(ctx, q)
}

// Start runs the sampler and the control loop until ctx is done or one of
// them fails.
func (d *Deployment) Start(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx).WithValues("deployment", d.name)
	ctx = ctrl.LoggerInto(ctx, logger)
	logger.V(logging.VERBOSE).Info("Starting deployment")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.sampler.Start(ctx)
	})
	g.Go(func() error {
		return d.controller.Start(ctx)
	})
	return g.Wait()
}

func secondsOr(seconds, fallback float64) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
