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
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RouterSource exposes the live load bookkeeping of an in-process router.
// *router.Router satisfies it.
type RouterSource interface {
	// Deployment returns the deployment the router serves.
	Deployment() string

	// InFlightCounts returns the in-flight queries per registered replica tag.
	InFlightCounts() map[string]int

	// QueueDepth returns the number of callers waiting for a replica.
	QueueDepth() int

	// Embargoed returns the tags excluded from new assignments and their expiry.
	Embargoed() map[string]time.Time
}

// PrometheusQuerier is the subset of the Prometheus HTTP API the sampler uses.
// promv1.API satisfies it.
type PrometheusQuerier interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}
