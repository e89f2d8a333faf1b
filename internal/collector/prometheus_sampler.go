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
	"time"

	"github.com/prometheus/common/model"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-serve-control/internal/constants"
	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
)

// PrometheusSamplerConfig configures a PrometheusSampler.
type PrometheusSamplerConfig struct {
	// Namespace restricts queries to one namespace when set.
	Namespace string

	// LookBack is the avg_over_time window.
	LookBack time.Duration

	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// PrometheusSampler reads router load from the metrics the routers export,
// for controllers running out of process.
type PrometheusSampler struct {
	api    PrometheusQuerier
	config PrometheusSamplerConfig
}

var _ interfaces.LoadSampler = &PrometheusSampler{}

// NewPrometheusSampler creates a sampler over api.
func NewPrometheusSampler(api PrometheusQuerier, config PrometheusSamplerConfig) (*PrometheusSampler, error) {
	if api == nil {
		return nil, fmt.Errorf("prometheus sampler requires an API client")
	}
	if config.LookBack <= 0 {
		return nil, fmt.Errorf("prometheus sampler look-back must be positive, got %s", config.LookBack)
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	return &PrometheusSampler{api: api, config: config}, nil
}

// Sample queries per-replica averages and the current router queue depth.
func (s *PrometheusSampler) Sample(ctx context.Context, deployment string) (interfaces.LoadSnapshot, error) {
	now := s.config.Clock.Now()

	ongoing, err := s.query(ctx, QueryOngoingRequests, deployment, now)
	if err != nil {
		return interfaces.LoadSnapshot{}, err
	}
	snapshot := interfaces.LoadSnapshot{Timestamp: now}
	for _, sample := range ongoing {
		tag := string(sample.Metric[model.LabelName(constants.LabelReplica)])
		if tag == "" {
			continue
		}
		snapshot.Replicas = append(snapshot.Replicas, interfaces.ReplicaLoad{Tag: tag, Ongoing: float64(sample.Value)})
	}
	sort.Slice(snapshot.Replicas, func(i, j int) bool {
		return snapshot.Replicas[i].Tag < snapshot.Replicas[j].Tag
	})

	queued, err := s.query(ctx, QueryQueuedRequests, deployment, now)
	if err != nil {
		return interfaces.LoadSnapshot{}, err
	}
	if len(queued) > 0 {
		snapshot.QueuedAtRouter = int(queued[0].Value)
	}
	return snapshot, nil
}

func (s *PrometheusSampler) query(ctx context.Context, tmpl QueryTemplate, deployment string, ts time.Time) (model.Vector, error) {
	logger := ctrl.LoggerFrom(ctx)
	q, err := BuildQuery(tmpl, deployment, s.config.Namespace, s.config.LookBack)
	if err != nil {
		return nil, err
	}

	val, warnings, err := s.api.Query(ctx, q, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, tmpl, err)
	}
	if len(warnings) > 0 {
		logger.V(logging.DEBUG).Info("Prometheus query returned warnings", "query", q, "warnings", warnings)
	}
	vec, ok := val.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected vector result, got %T", ErrQueryFailed, tmpl, val)
	}
	logger.V(logging.TRACE).Info("Prometheus query", "query", q, "series", len(vec))
	return vec, nil
}
