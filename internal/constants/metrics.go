package constants

// Metric names emitted by the router and the autoscaling controller.
const (
	RouterInFlightRequests      = "serve_router_in_flight_requests"
	RouterQueuedRequests        = "serve_router_queued_requests"
	RouterAssignmentsTotal      = "serve_router_assignments_total"
	RouterDispatchFailuresTotal = "serve_router_dispatch_failures_total"
	RouterEmbargoesTotal        = "serve_router_embargoes_total"
	RouterAssignWaitSeconds     = "serve_router_assign_wait_seconds"

	AutoscalerDesiredReplicas   = "serve_autoscaler_desired_replicas"
	AutoscalerCurrentReplicas   = "serve_autoscaler_current_replicas"
	AutoscalerScalingTotal      = "serve_autoscaler_scaling_total"
	AutoscalerSkippedTicksTotal = "serve_autoscaler_skipped_ticks_total"
	AutoscalerDecisionCounter   = "serve_autoscaler_decision_counter"
)

// Metric label names
const (
	LabelDeployment = "deployment"
	LabelReplica    = "replica"
	LabelDirection  = "direction"
	LabelReason     = "reason"
)
