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

package interfaces

import (
	"context"
	"time"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
)

// ReplicaLoad is the time-averaged number of ongoing requests on one replica.
type ReplicaLoad struct {
	Tag     string
	Ongoing float64
}

// LoadSnapshot is one observation of a deployment's load.
type LoadSnapshot struct {
	// Replicas holds one entry per running replica, already averaged over the
	// sampler's look-back window.
	Replicas []ReplicaLoad
	// QueuedAtRouter is the number of requests waiting at the router for a
	// replica to become available.
	QueuedAtRouter int
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time
}

// OngoingPerReplica returns the ongoing request averages in replica order.
func (s LoadSnapshot) OngoingPerReplica() []float64 {
	out := make([]float64, len(s.Replicas))
	for i, r := range s.Replicas {
		out[i] = r.Ongoing
	}
	return out
}

// LoadSampler reports the load of a deployment. Implementations average the
// per-replica values over their look-back window before returning.
type LoadSampler interface {
	Sample(ctx context.Context, deployment string) (LoadSnapshot, error)
}

// ScalingDecision is the output of one control tick that changed the target.
type ScalingDecision struct {
	Deployment      string
	CurrentReplicas int
	TargetReplicas  int
	Reason          string
	State           v1alpha1.AutoscalingState
}

// Direction returns "up", "down" or "none".
func (d ScalingDecision) Direction() string {
	switch {
	case d.TargetReplicas > d.CurrentReplicas:
		return "up"
	case d.TargetReplicas < d.CurrentReplicas:
		return "down"
	default:
		return "none"
	}
}

// ScaleActuator delivers desired replica counts to the replica supervisor.
type ScaleActuator interface {
	ApplyDecision(ctx context.Context, decision ScalingDecision) error
}
