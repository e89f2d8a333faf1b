// Package collector provides the load samplers that feed the autoscaling
// controller.
//
// Two implementations of interfaces.LoadSampler are available:
//
//   - RouterSampler records the in-flight counts of an in-process router at a
//     fixed interval and averages them per replica over a look-back window.
//   - PrometheusSampler reads the same figures from the router metrics
//     scraped by Prometheus, for controllers running in a separate process.
//
// Both report the router queue depth as of the sampling time so that a
// deployment scaled to zero reacts to the first queued request.
//
// # Prometheus Queries
//
//	# Per-replica ongoing requests
//	sum by (replica) (avg_over_time(serve_router_in_flight_requests{deployment="$d"}[30s]))
//
//	# Router queue depth
//	max(serve_router_queued_requests{deployment="$d"})
//
// # Embargoed Replicas
//
// RouterSampler keeps embargoed replicas in the snapshot by default: they
// still hold their in-flight requests and remain part of the running pool.
// Set RouterSamplerOptions.ExcludeEmbargoed to leave them out of the average.
package collector
