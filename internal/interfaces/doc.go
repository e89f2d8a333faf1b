// Package interfaces defines the data types and contracts shared between the
// replica router, the load samplers and the autoscaling controller.
//
// The router and the controller never reference each other. They meet only
// through the types declared here:
//
//	requests -> Router -> Endpoint
//	Router   -> LoadSampler -> Controller -> ScaleActuator -> supervisor
package interfaces
