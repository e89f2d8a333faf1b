// Package actuator delivers the autoscaling controller's decisions.
//
// Two actuation models are supported and can be combined with Chain:
//
//	Controller → MetricsActuator → Prometheus → HPA/KEDA → Deployment
//	Controller → DeploymentScaler → Deployment.spec.replicas
//
// MetricsActuator emits the serve_autoscaler_desired_replicas gauge for an
// external autoscaler to consume:
//
//	serve_autoscaler_desired_replicas{deployment="llama-8b"} = 5
//
// DeploymentScaler patches the apps/v1 Deployment of the same name in its
// namespace. Decisions that match the current spec.replicas are not patched.
//
// # Error Handling
//
//   - ErrDeploymentNotFound: target Deployment doesn't exist
//   - ErrInvalidReplicaCount: negative target
//
// The controller retries a failed actuation on its next tick and reflects the
// failure in the ScalingActive condition.
package actuator
