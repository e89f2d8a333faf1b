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

package router

import (
	"errors"
	"fmt"

	"github.com/llm-d/llm-d-serve-control/internal/registry"
)

var (
	// ErrNoReplicasAvailable is returned when a query cannot be placed: the
	// caller's deadline passed while waiting, or every registered replica
	// refused the dispatch.
	ErrNoReplicasAvailable = errors.New("no replicas available")

	// ErrResultChannelClosed is the result of a query whose replica closed
	// the result channel without delivering a value.
	ErrResultChannelClosed = errors.New("replica closed the result channel without a result")
)

// ReplicaDispatchFailure records a synchronous dispatch error from one
// replica. The router retries the query on another replica.
type ReplicaDispatchFailure struct {
	Replica registry.ReplicaID
	Err     error
}

func (e *ReplicaDispatchFailure) Error() string {
	return fmt.Sprintf("dispatch to replica %s failed: %v", e.Replica, e.Err)
}

func (e *ReplicaDispatchFailure) Unwrap() error {
	return e.Err
}

func exhaustedError(last *ReplicaDispatchFailure) error {
	if last == nil {
		return ErrNoReplicasAvailable
	}
	return fmt.Errorf("%w: every replica failed dispatch, last: %w", ErrNoReplicasAvailable, last)
}
