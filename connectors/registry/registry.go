// Copyright 2026 Nexus
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry holds the process-wide set of connector descriptors.
// Descriptors are registered once at startup and read concurrently by the
// gateway, router and orchestrator.
package registry

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"nexus/engine/connectors/base"
)

// Registry manages registered connector descriptors.
// Thread-safe for concurrent access.
type Registry struct {
	descriptors map[string]*base.ConnectorDescriptor
	mu          sync.RWMutex
	logger      *log.Logger
}

// NewRegistry creates an empty descriptor registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*base.ConnectorDescriptor),
		logger:      log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags),
	}
}

// Register adds a descriptor to the registry.
// Returns an error if a descriptor with the same id already exists.
func (r *Registry) Register(d *base.ConnectorDescriptor) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("descriptor must have an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("connector '%s' already registered", d.ID)
	}

	r.descriptors[d.ID] = d
	r.logger.Printf("Registered connector '%s' (%d direct rules, %d cacheable tools)",
		d.ID, len(d.DirectRules), len(d.CacheableTools))

	return nil
}

// Get retrieves a descriptor by connector id.
func (r *Registry) Get(id string) (*base.ConnectorDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.descriptors[id]
	if !exists {
		return nil, fmt.Errorf("connector '%s' not found", id)
	}
	return d, nil
}

// List returns all registered connector ids in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// All returns all registered descriptors in stable id order.
func (r *Registry) All() []*base.ConnectorDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*base.ConnectorDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.descriptors[id])
	}
	return out
}

// Count returns the number of registered connectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// PrewarmIDs returns the ids of connectors configured for startup
// prewarming.
func (r *Registry) PrewarmIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, d := range r.descriptors {
		if len(d.PrewarmTools) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
