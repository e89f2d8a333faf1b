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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/common/model"

	"github.com/llm-d/llm-d-serve-control/internal/constants"
)

var (
	// ErrUnknownDeployment is returned when a sampler is asked about a
	// deployment it does not observe.
	ErrUnknownDeployment = errors.New("deployment not observed by this sampler")

	// ErrQueryFailed wraps PromQL execution errors and unexpected result types.
	ErrQueryFailed = errors.New("prometheus query failed")
)

// QueryTemplate identifies a PromQL query the Prometheus sampler issues.
type QueryTemplate string

const (
	// QueryOngoingRequests averages each router's in-flight gauge over the
	// look-back window and sums the averages per replica, since every router
	// reports only the queries it dispatched.
	QueryOngoingRequests QueryTemplate = "ongoing_requests"

	// QueryQueuedRequests reads the router queue depth. Several router
	// instances may report the same deployment; the largest queue counts.
	QueryQueuedRequests QueryTemplate = "queued_requests"
)

// BuildQuery renders a query for one deployment. namespace is optional.
func BuildQuery(tmpl QueryTemplate, deployment, namespace string, window time.Duration) (string, error) {
	selector := labelSelector(deployment, namespace)
	switch tmpl {
	case QueryOngoingRequests:
		return fmt.Sprintf("sum by (%s) (avg_over_time(%s%s[%s]))",
			constants.LabelReplica, constants.RouterInFlightRequests, selector, model.Duration(window)), nil
	case QueryQueuedRequests:
		return fmt.Sprintf("max(%s%s)", constants.RouterQueuedRequests, selector), nil
	default:
		return "", fmt.Errorf("unknown query template %q", tmpl)
	}
}

func labelSelector(deployment, namespace string) string {
	matchers := []string{fmt.Sprintf("%s=%q", constants.LabelDeployment, deployment)}
	if namespace != "" {
		matchers = append(matchers, fmt.Sprintf("namespace=%q", namespace))
	}
	return "{" + strings.Join(matchers, ",") + "}"
}
