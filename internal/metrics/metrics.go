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

package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llm-d/llm-d-serve-control/internal/constants"
)

var (
	deploymentLabels = []string{constants.LabelDeployment}
	replicaLabels    = []string{constants.LabelDeployment, constants.LabelReplica}
	scalingLabels    = []string{constants.LabelDeployment, constants.LabelDirection, constants.LabelReason}

	// AssignWaitBuckets spans 1ms to 2 minutes of router queueing.
	AssignWaitBuckets = []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
	}
)

// --- Router metrics ---
var (
	inFlightRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: constants.RouterInFlightRequests,
			Help: "Number of requests assigned to a replica and not yet completed",
		},
		replicaLabels,
	)
	queuedRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: constants.RouterQueuedRequests,
			Help: "Number of callers waiting at the router for replica capacity",
		},
		deploymentLabels,
	)
	assignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: constants.RouterAssignmentsTotal,
			Help: "Total number of requests dispatched to each replica",
		},
		replicaLabels,
	)
	dispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: constants.RouterDispatchFailuresTotal,
			Help: "Total number of synchronous dispatch failures per replica",
		},
		replicaLabels,
	)
	embargoesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: constants.RouterEmbargoesTotal,
			Help: "Total number of times a replica was embargoed",
		},
		replicaLabels,
	)
	assignWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    constants.RouterAssignWaitSeconds,
			Help:    "Time a request spent waiting at the router before it was dispatched",
			Buckets: AssignWaitBuckets,
		},
		deploymentLabels,
	)
)

// --- Autoscaler metrics ---
var (
	desiredReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: constants.AutoscalerDesiredReplicas,
			Help: "Desired number of replicas for each deployment",
		},
		deploymentLabels,
	)
	currentReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: constants.AutoscalerCurrentReplicas,
			Help: "Number of running replicas observed at the last control tick",
		},
		deploymentLabels,
	)
	scalingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: constants.AutoscalerScalingTotal,
			Help: "Total number of replica scaling decisions",
		},
		scalingLabels,
	)
	skippedTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: constants.AutoscalerSkippedTicksTotal,
			Help: "Control ticks dropped because the previous evaluation overran the period",
		},
		deploymentLabels,
	)
	decisionCounter = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: constants.AutoscalerDecisionCounter,
			Help: "Signed hysteresis counter of consecutive scale-up (positive) or scale-down (negative) decisions",
		},
		deploymentLabels,
	)
)

var registerOnce sync.Once

// Register registers all metrics with the provided registry.
// Only the first call has an effect.
func Register(registry prometheus.Registerer) error {
	var err error
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			inFlightRequests, queuedRequests, assignmentsTotal, dispatchFailuresTotal, embargoesTotal,
			assignWaitSeconds, desiredReplicas, currentReplicas, scalingTotal, skippedTicksTotal, decisionCounter,
		} {
			if regErr := registry.Register(c); regErr != nil {
				err = fmt.Errorf("failed to register metric: %w", regErr)
				return
			}
		}
	})
	return err
}

// Reset clears all metric values. Only used in tests.
func Reset() {
	for _, v := range []interface{ Reset() }{
		inFlightRequests, queuedRequests, assignmentsTotal, dispatchFailuresTotal, embargoesTotal,
		assignWaitSeconds, desiredReplicas, currentReplicas, scalingTotal, skippedTicksTotal, decisionCounter,
	} {
		v.Reset()
	}
}

// SetInFlightRequests records the in-flight count of one replica.
func SetInFlightRequests(deployment, replica string, n int) {
	inFlightRequests.WithLabelValues(deployment, replica).Set(float64(n))
}

// DeleteReplica drops the per-replica series once a replica leaves the pool.
func DeleteReplica(deployment, replica string) {
	inFlightRequests.DeleteLabelValues(deployment, replica)
}

// SetQueuedRequests records the router queue depth.
func SetQueuedRequests(deployment string, n int) {
	queuedRequests.WithLabelValues(deployment).Set(float64(n))
}

// RecordAssignment counts a dispatched request and how long it waited.
func RecordAssignment(deployment, replica string, waited time.Duration) {
	assignmentsTotal.WithLabelValues(deployment, replica).Inc()
	assignWaitSeconds.WithLabelValues(deployment).Observe(waited.Seconds())
}

// RecordDispatchFailure counts a synchronous dispatch failure.
func RecordDispatchFailure(deployment, replica string) {
	dispatchFailuresTotal.WithLabelValues(deployment, replica).Inc()
}

// RecordEmbargo counts an embargo applied to a replica.
func RecordEmbargo(deployment, replica string) {
	embargoesTotal.WithLabelValues(deployment, replica).Inc()
}

// RecordSkippedTick counts a dropped control tick.
func RecordSkippedTick(deployment string) {
	skippedTicksTotal.WithLabelValues(deployment).Inc()
}

// SetDecisionCounter records the hysteresis counter after a tick.
func SetDecisionCounter(deployment string, counter int) {
	decisionCounter.WithLabelValues(deployment).Set(float64(counter))
}

// MetricsEmitter handles emission of scaling metrics
type MetricsEmitter struct{}

// NewMetricsEmitter creates a new metrics emitter
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{}
}

// EmitReplicaMetrics emits current and desired replica metrics
func (m *MetricsEmitter) EmitReplicaMetrics(deployment string, current, desired int) {
	currentReplicas.WithLabelValues(deployment).Set(float64(current))
	desiredReplicas.WithLabelValues(deployment).Set(float64(desired))
}

// EmitScalingDecision counts a scaling decision with its direction and reason.
func (m *MetricsEmitter) EmitScalingDecision(deployment, direction, reason string) {
	scalingTotal.With(prometheus.Labels{
		constants.LabelDeployment: deployment,
		constants.LabelDirection:  direction,
		constants.LabelReason:     reason,
	}).Inc()
}
