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

package actuator

import (
	"context"
	"errors"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
	"github.com/llm-d/llm-d-serve-control/internal/metrics"
)

var (
	// ErrDeploymentNotFound is returned when the target Deployment does not exist.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrInvalidReplicaCount is returned for negative targets.
	ErrInvalidReplicaCount = errors.New("invalid replica count")
)

// MetricsActuator publishes decisions as desired-replica gauges for an
// external autoscaler (HPA or KEDA) to act on.
type MetricsActuator struct {
	MetricsEmitter *metrics.MetricsEmitter
}

// NewMetricsActuator creates a MetricsActuator.
func NewMetricsActuator() *MetricsActuator {
	return &MetricsActuator{MetricsEmitter: metrics.NewMetricsEmitter()}
}

// ApplyDecision emits the decision's current and target replica counts.
func (a *MetricsActuator) ApplyDecision(ctx context.Context, decision interfaces.ScalingDecision) error {
	if decision.TargetReplicas < 0 {
		return fmt.Errorf("%w: %d for %s", ErrInvalidReplicaCount, decision.TargetReplicas, decision.Deployment)
	}
	a.MetricsEmitter.EmitReplicaMetrics(decision.Deployment, decision.CurrentReplicas, decision.TargetReplicas)
	ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Emitted desired replicas",
		"deployment", decision.Deployment, "desired", decision.TargetReplicas)
	return nil
}

// DeploymentScaler sets spec.replicas of the apps/v1 Deployment named after
// the decision's deployment.
type DeploymentScaler struct {
	Client    client.Client
	Namespace string
}

// NewDeploymentScaler creates a scaler for Deployments in namespace.
func NewDeploymentScaler(c client.Client, namespace string) *DeploymentScaler {
	return &DeploymentScaler{Client: c, Namespace: namespace}
}

// GetCurrentDeploymentReplicas returns the Deployment's spec.replicas, or its
// status replicas when spec.replicas is unset.
func (s *DeploymentScaler) GetCurrentDeploymentReplicas(ctx context.Context, name string) (int32, error) {
	deploy, err := s.get(ctx, name)
	if err != nil {
		return 0, err
	}
	if deploy.Spec.Replicas != nil {
		return *deploy.Spec.Replicas, nil
	}
	return deploy.Status.Replicas, nil
}

// ApplyDecision patches spec.replicas to the decision's target. A Deployment
// already at the target is left untouched.
func (s *DeploymentScaler) ApplyDecision(ctx context.Context, decision interfaces.ScalingDecision) error {
	logger := ctrl.LoggerFrom(ctx)
	if decision.TargetReplicas < 0 {
		return fmt.Errorf("%w: %d for %s", ErrInvalidReplicaCount, decision.TargetReplicas, decision.Deployment)
	}

	deploy, err := s.get(ctx, decision.Deployment)
	if err != nil {
		return err
	}
	target := int32(decision.TargetReplicas)
	if deploy.Spec.Replicas != nil && *deploy.Spec.Replicas == target {
		logger.V(logging.DEBUG).Info("Deployment already at target", "deployment", decision.Deployment, "replicas", target)
		return nil
	}

	patch := client.MergeFrom(deploy.DeepCopy())
	deploy.Spec.Replicas = ptr.To(target)
	if err := s.Client.Patch(ctx, deploy, patch); err != nil {
		return fmt.Errorf("failed to scale deployment %s/%s to %d: %w", s.Namespace, decision.Deployment, target, err)
	}
	logger.Info("Scaled deployment", "deployment", decision.Deployment, "namespace", s.Namespace,
		"replicas", target, "reason", decision.Reason)
	return nil
}

func (s *DeploymentScaler) get(ctx context.Context, name string) (*appsv1.Deployment, error) {
	deploy := &appsv1.Deployment{}
	if err := s.Client.Get(ctx, types.NamespacedName{Namespace: s.Namespace, Name: name}, deploy); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDeploymentNotFound, s.Namespace, name)
		}
		return nil, fmt.Errorf("failed to get deployment %s/%s: %w", s.Namespace, name, err)
	}
	return deploy, nil
}

// Chain applies a decision to several actuators in order and stops at the
// first error.
type Chain []interfaces.ScaleActuator

// ApplyDecision implements interfaces.ScaleActuator.
func (c Chain) ApplyDecision(ctx context.Context, decision interfaces.ScalingDecision) error {
	for _, a := range c {
		if err := a.ApplyDecision(ctx, decision); err != nil {
			return err
		}
	}
	return nil
}
