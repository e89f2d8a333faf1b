package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()
	if err := Register(registry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := Register(registry); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}
}

func TestRouterMetrics(t *testing.T) {
	Reset()
	SetInFlightRequests("svc", "r1", 3)
	SetQueuedRequests("svc", 2)
	RecordAssignment("svc", "r1", 10*time.Millisecond)
	RecordAssignment("svc", "r1", 0)
	RecordDispatchFailure("svc", "r2")
	RecordEmbargo("svc", "r2")

	if got := testutil.ToFloat64(inFlightRequests.WithLabelValues("svc", "r1")); got != 3 {
		t.Errorf("in-flight = %v, want 3", got)
	}
	if got := testutil.ToFloat64(queuedRequests.WithLabelValues("svc")); got != 2 {
		t.Errorf("queued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(assignmentsTotal.WithLabelValues("svc", "r1")); got != 2 {
		t.Errorf("assignments = %v, want 2", got)
	}
	if got := testutil.ToFloat64(dispatchFailuresTotal.WithLabelValues("svc", "r2")); got != 1 {
		t.Errorf("dispatch failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(embargoesTotal.WithLabelValues("svc", "r2")); got != 1 {
		t.Errorf("embargoes = %v, want 1", got)
	}

	DeleteReplica("svc", "r1")
	if got := testutil.CollectAndCount(inFlightRequests); got != 0 {
		t.Errorf("in-flight series after delete = %d, want 0", got)
	}
}

func TestMetricsEmitter(t *testing.T) {
	Reset()
	emitter := NewMetricsEmitter()
	emitter.EmitReplicaMetrics("svc", 2, 4)
	emitter.EmitScalingDecision("svc", "up", "ScaleUp")
	emitter.EmitScalingDecision("svc", "up", "ScaleUp")
	SetDecisionCounter("svc", -3)
	RecordSkippedTick("svc")

	if got := testutil.ToFloat64(currentReplicas.WithLabelValues("svc")); got != 2 {
		t.Errorf("current replicas = %v, want 2", got)
	}
	if got := testutil.ToFloat64(desiredReplicas.WithLabelValues("svc")); got != 4 {
		t.Errorf("desired replicas = %v, want 4", got)
	}
	if got := testutil.ToFloat64(scalingTotal.WithLabelValues("svc", "up", "ScaleUp")); got != 2 {
		t.Errorf("scaling total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(decisionCounter.WithLabelValues("svc")); got != -3 {
		t.Errorf("decision counter = %v, want -3", got)
	}
	if got := testutil.ToFloat64(skippedTicksTotal.WithLabelValues("svc")); got != 1 {
		t.Errorf("skipped ticks = %v, want 1", got)
	}
}
