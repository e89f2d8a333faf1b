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

package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
)

// RouterSamplerOptions configures a RouterSampler.
type RouterSamplerOptions struct {
	// Interval is how often Start records the router's in-flight counts.
	Interval time.Duration

	// LookBack is the window the per-replica averages cover.
	LookBack time.Duration

	// ExcludeEmbargoed drops embargoed replicas from the snapshot.
	ExcludeEmbargoed bool

	// Clock defaults to the real clock.
	Clock clock.WithTicker
}

// RouterSampler records the in-flight counts of an in-process router at a
// fixed interval and reports them averaged over the look-back window.
type RouterSampler struct {
	source RouterSource
	opts   RouterSamplerOptions

	mu     sync.Mutex
	series map[string]*TimeSeriesBuffer
}

var _ interfaces.LoadSampler = &RouterSampler{}

// NewRouterSampler creates a sampler over source.
func NewRouterSampler(source RouterSource, opts RouterSamplerOptions) (*RouterSampler, error) {
	if source == nil {
		return nil, fmt.Errorf("router sampler requires a source")
	}
	if opts.Interval <= 0 || opts.LookBack <= 0 {
		return nil, fmt.Errorf("router sampler interval and look-back must be positive, got %s/%s",
			opts.Interval, opts.LookBack)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &RouterSampler{
		source: source,
		opts:   opts,
		series: map[string]*TimeSeriesBuffer{},
	}, nil
}

// Start records a sample every interval until ctx is done.
func (s *RouterSampler) Start(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx).WithValues("deployment", s.source.Deployment())
	logger.V(logging.VERBOSE).Info("Starting router sampler", "interval", s.opts.Interval, "lookBack", s.opts.LookBack)

	ticker := s.opts.Clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.Record()
		}
	}
}

// Record takes one sample of every registered replica. Series of replicas
// that left the router are dropped.
func (s *RouterSampler) Record() {
	now := s.opts.Clock.Now()
	counts := s.source.InFlightCounts()

	s.mu.Lock()
	defer s.mu.Unlock()
	for tag := range s.series {
		if _, ok := counts[tag]; !ok {
			delete(s.series, tag)
		}
	}
	for tag, n := range counts {
		buf, ok := s.series[tag]
		if !ok {
			buf = NewTimeSeriesBuffer(s.opts.LookBack)
			s.series[tag] = buf
		}
		buf.Add(now, float64(n))
	}
}

// Sample records a fresh sample and returns each replica's average over the
// look-back window, ordered by tag. The router queue depth is reported as of
// now.
func (s *RouterSampler) Sample(ctx context.Context, deployment string) (interfaces.LoadSnapshot, error) {
	if deployment != s.source.Deployment() {
		return interfaces.LoadSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownDeployment, deployment)
	}
	s.Record()

	var embargoed map[string]time.Time
	if s.opts.ExcludeEmbargoed {
		embargoed = s.source.Embargoed()
	}
	now := s.opts.Clock.Now()
	snapshot := interfaces.LoadSnapshot{
		QueuedAtRouter: s.source.QueueDepth(),
		Timestamp:      now,
	}

	s.mu.Lock()
	for tag, buf := range s.series {
		if _, skip := embargoed[tag]; skip {
			continue
		}
		avg, ok := buf.Series.Average(now, s.opts.LookBack)
		if !ok {
			continue
		}
		snapshot.Replicas = append(snapshot.Replicas, interfaces.ReplicaLoad{Tag: tag, Ongoing: avg})
	}
	s.mu.Unlock()

	sort.Slice(snapshot.Replicas, func(i, j int) bool {
		return snapshot.Replicas[i].Tag < snapshot.Replicas[j].Tag
	})
	ctrl.LoggerFrom(ctx).V(logging.TRACE).Info("Sampled router load",
		"deployment", deployment, "replicas", len(snapshot.Replicas), "queued", snapshot.QueuedAtRouter)
	return snapshot, nil
}
