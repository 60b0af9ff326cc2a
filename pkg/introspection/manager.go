// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package introspection

import (
	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/errors"
)

// Manager runs the enabled subset of the default registry's collectors
// on demand. cmd/kernel stores one in syscall.Kernel.Introspect; no
// syscall handler calls it.
type Manager struct {
	logger   logr.Logger
	registry *Registry
	cfg      Config
}

// NewManager builds a Manager over the default registry, restricted to
// the StatTypes enabled in cfg.
func NewManager(logger logr.Logger, cfg Config) *Manager {
	return &Manager{logger: logger.WithName("introspection"), registry: defaultRegistry, cfg: cfg}
}

// Snapshot runs every enabled, registered collector and returns its
// results keyed by StatType. A collector error is logged and that
// entry omitted rather than aborting the whole snapshot.
func (m *Manager) Snapshot() map[StatType]any {
	out := make(map[StatType]any)
	for t, enabled := range m.cfg.Enabled {
		if !enabled {
			continue
		}
		c, ok := m.registry.Get(t)
		if !ok {
			continue
		}
		v, err := c.Collect()
		if err != nil {
			m.logger.Error(err, "collect failed", "stat", t)
			continue
		}
		out[t] = v
	}
	return out
}

// Get runs a single collector by StatType, regardless of cfg.Enabled,
// for callers that ask for one specific stat.
func (m *Manager) Get(t StatType) (any, error) {
	c, ok := m.registry.Get(t)
	if !ok {
		return nil, errors.Validation("introspection: no collector registered for %q", t)
	}
	return c.Collect()
}
