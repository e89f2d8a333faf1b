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

// Package registry holds the replica handles known for one deployment.
// It is a pure data holder: replicas are identified by value (ReplicaID), so
// replacing a handle object with the same identity is a data swap, and the
// only logic is snapshot diffing.
package registry

import (
	"errors"
	"fmt"

	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
)

var (
	errEmptyTag          = errors.New("replica tag cannot be empty")
	errNonPositiveLimit  = errors.New("maxConcurrentQueries must be positive")
	errNilEndpoint       = errors.New("replica endpoint cannot be nil")
	errDeploymentMissing = errors.New("replica deployment name cannot be empty")
)

// ReplicaID identifies a replica within the platform.
type ReplicaID struct {
	Deployment string
	Tag        string
}

// String returns "<deployment>#<tag>".
func (id ReplicaID) String() string {
	return id.Deployment + "#" + id.Tag
}

// ReplicaHandle describes a ready replica as reported by the supervisor.
type ReplicaHandle struct {
	ID ReplicaID
	// MaxConcurrentQueries is fixed for the lifetime of the replica.
	MaxConcurrentQueries int
	Endpoint             interfaces.Endpoint
}

// Validate checks the handle for missing identity or capacity.
func (h ReplicaHandle) Validate() error {
	if h.ID.Deployment == "" {
		return errDeploymentMissing
	}
	if h.ID.Tag == "" {
		return errEmptyTag
	}
	if h.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("replica %s: %w, got %d", h.ID, errNonPositiveLimit, h.MaxConcurrentQueries)
	}
	if h.Endpoint == nil {
		return fmt.Errorf("replica %s: %w", h.ID, errNilEndpoint)
	}
	return nil
}

// Set is an insertion-ordered set of replica handles keyed by identity.
// Set is not thread-safe; the owner guards it.
type Set struct {
	order   []ReplicaID
	handles map[ReplicaID]ReplicaHandle
}

// NewSet builds a Set from a snapshot. Invalid handles and repeated
// identities are skipped; the returned error joins every rejected entry while
// the Set holds the valid ones in their original order.
func NewSet(handles []ReplicaHandle) (*Set, error) {
	s := &Set{
		order:   make([]ReplicaID, 0, len(handles)),
		handles: make(map[ReplicaID]ReplicaHandle, len(handles)),
	}
	var errs []error
	for _, h := range handles {
		if err := h.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := s.handles[h.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate replica %s in snapshot", h.ID))
			continue
		}
		s.order = append(s.order, h.ID)
		s.handles[h.ID] = h
	}
	return s, errors.Join(errs...)
}

// OrderedAfter returns s with the replicas already in prev kept in prev's
// order, followed by the new ones in snapshot order. Handles are taken from s.
func (s *Set) OrderedAfter(prev *Set) *Set {
	if s == nil || prev.Len() == 0 {
		return s
	}
	out := &Set{
		order:   make([]ReplicaID, 0, len(s.order)),
		handles: s.handles,
	}
	for _, id := range prev.order {
		if _, ok := s.handles[id]; ok {
			out.order = append(out.order, id)
		}
	}
	for _, id := range s.order {
		if !prev.Contains(id) {
			out.order = append(out.order, id)
		}
	}
	return out
}

// Len returns the number of replicas.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get returns the handle for id.
func (s *Set) Get(id ReplicaID) (ReplicaHandle, bool) {
	if s == nil {
		return ReplicaHandle{}, false
	}
	h, ok := s.handles[id]
	return h, ok
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id ReplicaID) bool {
	_, ok := s.Get(id)
	return ok
}

// IDs returns the identities in insertion order.
func (s *Set) IDs() []ReplicaID {
	if s == nil {
		return nil
	}
	out := make([]ReplicaID, len(s.order))
	copy(out, s.order)
	return out
}

// Handles returns the handles in insertion order.
func (s *Set) Handles() []ReplicaHandle {
	if s == nil {
		return nil
	}
	out := make([]ReplicaHandle, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.handles[id])
	}
	return out
}

// Diff describes how a new snapshot differs from the current one.
type Diff struct {
	Added   []ReplicaID
	Removed []ReplicaID
	Kept    []ReplicaID
}

// Changed reports whether membership changed.
func (d Diff) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// DiffSets compares two sets by identity. Order of each slice follows the set
// the identities come from.
func DiffSets(oldSet, newSet *Set) Diff {
	var d Diff
	for _, id := range newSet.IDs() {
		if oldSet.Contains(id) {
			d.Kept = append(d.Kept, id)
		} else {
			d.Added = append(d.Added, id)
		}
	}
	for _, id := range oldSet.IDs() {
		if !newSet.Contains(id) {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}
