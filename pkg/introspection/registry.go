// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package introspection

import "sync"

// Registry holds one Collector per StatType. A kernel only ever has one
// of each stat kind, so registering a second collector for an
// already-held StatType replaces the first rather than erroring.
type Registry struct {
	mu         sync.Mutex
	collectors map[StatType]Collector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[StatType]Collector)}
}

// Register adds c, replacing any collector previously registered for
// c.Type().
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Type()] = c
}

// Get returns the collector registered for t, if any.
func (r *Registry) Get(t StatType) (Collector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[t]
	return c, ok
}

// Types lists every StatType currently registered.
func (r *Registry) Types() []StatType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatType, 0, len(r.collectors))
	for t := range r.collectors {
		out = append(out, t)
	}
	return out
}

// All returns every registered collector.
func (r *Registry) All() []Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		out = append(out, c)
	}
	return out
}

// defaultRegistry is the process-wide registry the kernel's collectors
// attach to at construction time, mirroring the host collector
// registry's single shared instance.
var defaultRegistry = NewRegistry()

// Register attaches c to the default registry.
func Register(c Collector) {
	defaultRegistry.Register(c)
}
