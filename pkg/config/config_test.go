// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import "testing"

func TestKernelConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input KernelConfig
	}{
		{name: "empty config gets all defaults", input: KernelConfig{}},
		{
			name: "partial config keeps user values",
			input: KernelConfig{
				FrameCount: 1024,
				Quantum:    10,
			},
		},
	}

	d := DefaultKernelConfig()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			cfg.ApplyDefaults()

			if cfg.FrameBase == 0 {
				t.Error("FrameBase should never be left zero after ApplyDefaults")
			}
			if cfg.Priorities == 0 {
				t.Error("Priorities should never be left zero after ApplyDefaults")
			}
			if cfg.KStackSlots == 0 {
				t.Error("KStackSlots should never be left zero after ApplyDefaults")
			}
			if cfg.Net.MAC == ([6]byte{}) {
				t.Error("Net.MAC should never be left zero after ApplyDefaults")
			}

			if tt.input.FrameCount != 0 && cfg.FrameCount != tt.input.FrameCount {
				t.Errorf("FrameCount: user value not kept, got %d want %d", cfg.FrameCount, tt.input.FrameCount)
			}
			if tt.input.FrameCount == 0 && cfg.FrameCount != d.FrameCount {
				t.Errorf("FrameCount: default not applied, got %d want %d", cfg.FrameCount, d.FrameCount)
			}
			if tt.input.Quantum != 0 && cfg.Quantum != tt.input.Quantum {
				t.Errorf("Quantum: user value not kept, got %d want %d", cfg.Quantum, tt.input.Quantum)
			}
		})
	}
}
