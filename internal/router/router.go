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
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
	"github.com/llm-d/llm-d-serve-control/internal/metrics"
	"github.com/llm-d/llm-d-serve-control/internal/registry"
)

// Router assigns queries for one deployment to its replicas. A replica is a
// candidate when it is registered, not embargoed and has fewer in-flight
// queries than its MaxConcurrentQueries. Among candidates the least loaded
// wins, ties going to the replica registered first. Callers that find no
// candidate wait in FIFO order.
//
// A single mutex guards the replica set, in-flight sets, embargo table and
// waiter queue. No caller blocks while holding it.
type Router struct {
	deployment string
	clock      clock.WithDelayedExecution
	logger     logr.Logger

	mu        sync.Mutex
	replicas  *registry.Set
	inFlight  map[registry.ReplicaID]map[uint64]struct{}
	embargoes map[string]*embargo
	waiters   *list.List
	nextSeq   uint64
}

type embargo struct {
	expiry time.Time
	timer  clock.Timer
}

// waiter is a caller suspended in Assign. grant has capacity 1 and receives
// exactly one value, sent under the router lock when the waiter leaves the
// queue.
type waiter struct {
	tried       map[registry.ReplicaID]struct{}
	lastFailure *ReplicaDispatchFailure
	grant       chan grant
	elem        *list.Element
}

type grant struct {
	handle  registry.ReplicaHandle
	reserve reservation
	err     error
}

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the clock used for embargo expiry and wait timings.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(r *Router) {
		r.clock = c
	}
}

// NewRouter creates a router with no replicas. The logger is taken from ctx.
func NewRouter(ctx context.Context, deployment string, opts ...Option) *Router {
	r := &Router{
		deployment: deployment,
		clock:      clock.RealClock{},
		logger:     ctrl.LoggerFrom(ctx).WithValues("deployment", deployment),
		inFlight:   map[registry.ReplicaID]map[uint64]struct{}{},
		embargoes:  map[string]*embargo{},
		waiters:    list.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deployment returns the deployment this router serves.
func (r *Router) Deployment() string {
	return r.deployment
}

// UpdateReplicas replaces the replica set with the given snapshot. Replicas
// keep the order they were first registered in. In-flight
// queries of replicas that stay are carried over by identity; those of
// removed replicas are forgotten, not cancelled. Invalid entries are skipped
// and reported in the returned error while the valid ones are applied.
// Applying the same snapshot twice is a no-op.
func (r *Router) UpdateReplicas(handles []registry.ReplicaHandle) error {
	next, err := registry.NewSet(handles)
	if err != nil {
		r.logger.Error(err, "Skipped invalid replicas in update")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next = next.OrderedAfter(r.replicas)
	diff := registry.DiffSets(r.replicas, next)
	for _, id := range diff.Removed {
		delete(r.inFlight, id)
		metrics.DeleteReplica(r.deployment, id.Tag)
	}
	for _, id := range diff.Added {
		r.inFlight[id] = map[uint64]struct{}{}
		metrics.SetInFlightRequests(r.deployment, id.Tag, 0)
	}
	r.replicas = next
	if diff.Changed() {
		r.logger.Info("Replica set updated",
			"replicas", next.Len(), "added", len(diff.Added), "removed", len(diff.Removed))
	}

	r.dispatchWaitersLocked()
	return err
}

// EmbargoReplica stops new assignments to the replica with the given tag
// until duration has passed. In-flight queries are unaffected. Embargoing an
// already embargoed replica moves its expiry to now+duration; a non-positive
// duration lifts the embargo.
func (r *Router) EmbargoReplica(tag string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.embargoes[tag]; ok {
		prev.timer.Stop()
		delete(r.embargoes, tag)
	}
	if duration <= 0 {
		r.logger.V(logging.DEBUG).Info("Embargo lifted", "replica", tag)
		r.dispatchWaitersLocked()
		return
	}

	e := &embargo{expiry: r.clock.Now().Add(duration)}
	e.timer = r.clock.AfterFunc(duration, func() {
		r.expireEmbargo(tag, e)
	})
	r.embargoes[tag] = e
	metrics.RecordEmbargo(r.deployment, tag)
	r.logger.V(logging.VERBOSE).Info("Replica embargoed", "replica", tag, "until", e.expiry)
}

func (r *Router) expireEmbargo(tag string, e *embargo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A refreshed embargo replaces the entry, so a stale timer finds a
	// different pointer.
	if r.embargoes[tag] != e {
		return
	}
	delete(r.embargoes, tag)
	r.logger.V(logging.DEBUG).Info("Embargo expired", "replica", tag)
	r.dispatchWaitersLocked()
}

// Assign reserves a slot on a candidate replica and dispatches the query to
// it, waiting while no candidate exists. The returned Future resolves with the
// replica's result, and the slot is released when it does.
//
// A synchronous dispatch error frees the slot and the query is retried on a
// replica it has not tried yet. When every registered replica has failed, or
// ctx expires while waiting, Assign returns an error wrapping
// ErrNoReplicasAvailable. If ctx is cancelled while waiting, Assign returns
// ctx.Err() and holds no reservation.
func (r *Router) Assign(ctx context.Context, query *interfaces.Query) (*Future, error) {
	logger := ctrl.LoggerFrom(ctx).WithValues("deployment", r.deployment, "requestID", query.Metadata.RequestID)
	start := r.clock.Now()

	w := &waiter{
		tried: map[registry.ReplicaID]struct{}{},
		grant: make(chan grant, 1),
	}
	for {
		g, err := r.await(ctx, w)
		if err != nil {
			logger.V(logging.DEBUG).Info("Query not assigned", "error", err.Error())
			return nil, err
		}

		s := &slot{router: r, reserve: g.reserve}
		resultCh, err := g.handle.Endpoint.Dispatch(ctx, query)
		if err != nil {
			s.release()
			metrics.RecordDispatchFailure(r.deployment, g.handle.ID.Tag)
			logger.Error(err, "Dispatch failed, retrying on another replica", "replica", g.handle.ID.Tag)
			w.tried[g.handle.ID] = struct{}{}
			w.lastFailure = &ReplicaDispatchFailure{Replica: g.handle.ID, Err: err}
			continue
		}

		metrics.RecordAssignment(r.deployment, g.handle.ID.Tag, r.clock.Since(start))
		logger.V(logging.TRACE).Info("Query assigned", "replica", g.handle.ID.Tag)

		f := &Future{replica: g.handle.ID, done: make(chan struct{})}
		go func() {
			res, ok := <-resultCh
			if !ok {
				res = interfaces.Result{Err: ErrResultChannelClosed}
			}
			s.release()
			f.complete(res)
		}()
		return f, nil
	}
}

// await queues w and blocks until it is granted a reservation, fails, or ctx
// is done. Retries of an earlier attempt re-enter at the front of the queue.
func (r *Router) await(ctx context.Context, w *waiter) (grant, error) {
	if err := ctx.Err(); err != nil {
		return grant{}, ctxError(err)
	}

	r.mu.Lock()
	if len(w.tried) > 0 {
		w.elem = r.waiters.PushFront(w)
	} else {
		w.elem = r.waiters.PushBack(w)
	}
	r.dispatchWaitersLocked()
	r.mu.Unlock()

	select {
	case g := <-w.grant:
		return g, g.err
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w.elem != nil {
		r.removeWaiterLocked(w)
		metrics.SetQueuedRequests(r.deployment, r.waiters.Len())
		return grant{}, ctxError(ctx.Err())
	}
	// Granted concurrently with cancellation; hand the slot back.
	g := <-w.grant
	if g.err == nil {
		r.releaseLocked(g.reserve)
		r.dispatchWaitersLocked()
	}
	return grant{}, ctxError(ctx.Err())
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrNoReplicasAvailable, err)
	}
	return err
}

func (r *Router) release(res reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(res)
	r.dispatchWaitersLocked()
}

func (r *Router) releaseLocked(res reservation) {
	set, ok := r.inFlight[res.replica]
	if !ok {
		return
	}
	delete(set, res.seq)
	metrics.SetInFlightRequests(r.deployment, res.replica.Tag, len(set))
}

func (r *Router) removeWaiterLocked(w *waiter) {
	r.waiters.Remove(w.elem)
	w.elem = nil
}

// dispatchWaitersLocked hands reservations to queued waiters in order.
func (r *Router) dispatchWaitersLocked() {
	for e := r.waiters.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*waiter)

		if len(w.tried) > 0 && r.allTriedLocked(w.tried) {
			r.removeWaiterLocked(w)
			w.grant <- grant{err: exhaustedError(w.lastFailure)}
			e = next
			continue
		}

		h, ok := r.pickLocked(w.tried)
		if !ok {
			if len(w.tried) == 0 {
				// Nothing has capacity for a fresh waiter, so nobody behind it
				// can be served either, except retries with a different
				// exclusion set.
				if _, free := r.pickLocked(nil); !free {
					break
				}
			}
			e = next
			continue
		}

		r.removeWaiterLocked(w)
		w.grant <- grant{handle: h, reserve: r.reserveLocked(h.ID)}
		e = next
	}
	metrics.SetQueuedRequests(r.deployment, r.waiters.Len())
}

func (r *Router) reserveLocked(id registry.ReplicaID) reservation {
	r.nextSeq++
	res := reservation{replica: id, seq: r.nextSeq}
	set := r.inFlight[id]
	set[res.seq] = struct{}{}
	metrics.SetInFlightRequests(r.deployment, id.Tag, len(set))
	return res
}

// pickLocked returns the least loaded candidate not in exclude.
func (r *Router) pickLocked(exclude map[registry.ReplicaID]struct{}) (registry.ReplicaHandle, bool) {
	var (
		best     registry.ReplicaHandle
		bestLoad = -1
	)
	for _, h := range r.replicas.Handles() {
		if _, skip := exclude[h.ID]; skip {
			continue
		}
		if _, embargoed := r.embargoes[h.ID.Tag]; embargoed {
			continue
		}
		load := len(r.inFlight[h.ID])
		if load >= h.MaxConcurrentQueries {
			continue
		}
		if bestLoad < 0 || load < bestLoad {
			best, bestLoad = h, load
		}
	}
	return best, bestLoad >= 0
}

func (r *Router) allTriedLocked(tried map[registry.ReplicaID]struct{}) bool {
	for _, id := range r.replicas.IDs() {
		if _, ok := tried[id]; !ok {
			return false
		}
	}
	return true
}

// InFlightCounts returns the number of in-flight queries per replica tag.
func (r *Router) InFlightCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, r.replicas.Len())
	for _, id := range r.replicas.IDs() {
		out[id.Tag] = len(r.inFlight[id])
	}
	return out
}

// QueueDepth returns the number of callers waiting for a replica.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiters.Len()
}

// Embargoed returns the tags currently excluded from new assignments.
func (r *Router) Embargoed() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.embargoes))
	for tag, e := range r.embargoes {
		out[tag] = e.expiry
	}
	return out
}
