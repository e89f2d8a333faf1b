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
)

// RequestMetadata carries the routing key and arrival time of a query.
type RequestMetadata struct {
	// RequestID identifies the request for logging and tracing.
	RequestID string
	// Endpoint is the routing key (target deployment endpoint name).
	Endpoint string
	// ArrivalTime is when the ingress received the request.
	ArrivalTime time.Time
}

// Query is a decoded request waiting to be assigned to a replica.
// It must not be modified once handed to the router.
type Query struct {
	Payload  any
	Metadata RequestMetadata
}

// NewQuery creates a query stamped with the given arrival time.
func NewQuery(requestID, endpoint string, payload any, arrival time.Time) *Query {
	return &Query{
		Payload: payload,
		Metadata: RequestMetadata{
			RequestID:   requestID,
			Endpoint:    endpoint,
			ArrivalTime: arrival,
		},
	}
}

// Result is the terminal outcome of a dispatched query.
type Result struct {
	Value any
	Err   error
}

// Endpoint is the dispatch target of a replica. It is owned by the external
// supervisor; the router only holds a reference to it.
type Endpoint interface {
	// Dispatch sends the query to the replica. A returned error means the
	// request never reached the replica (for example, the process died) and
	// is retried elsewhere. Otherwise the channel delivers exactly one Result
	// once the replica finishes.
	Dispatch(ctx context.Context, query *Query) (<-chan Result, error)
}
