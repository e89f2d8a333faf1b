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
	"context"
	"sync"

	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/registry"
)

// Future resolves with the result of a dispatched query.
type Future struct {
	replica registry.ReplicaID
	done    chan struct{}
	result  interfaces.Result
}

// Replica returns the replica the query was dispatched to.
func (f *Future) Replica() registry.ReplicaID {
	return f.replica
}

// Done is closed once the replica has delivered its result.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. Abandoning the
// wait does not affect the replica slot, which is freed when the replica
// finishes.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) complete(res interfaces.Result) {
	f.result = res
	close(f.done)
}

// reservation is one occupied slot on a replica.
type reservation struct {
	replica registry.ReplicaID
	seq     uint64
}

// slot releases its reservation exactly once.
type slot struct {
	once    sync.Once
	router  *Router
	reserve reservation
}

func (s *slot) release() {
	s.once.Do(func() {
		s.router.release(s.reserve)
	})
}
