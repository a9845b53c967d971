// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"testing"

	"github.com/massalabs/bootstrap-client/internal/config"
)

func TestReport_Below(t *testing.T) {
	cfg := config.PreflightConfig{MinFreeBytes: 1 << 30, MinFreeMemoryPercent: 10}

	cases := []struct {
		name        string
		report      Report
		wantDisk    bool
		wantMem     bool
	}{
		{"both healthy", Report{DiskFreeBytes: 2 << 30, MemAvailablePercent: 20}, false, false},
		{"disk low", Report{DiskFreeBytes: 1 << 20, MemAvailablePercent: 20}, true, false},
		{"mem low", Report{DiskFreeBytes: 2 << 30, MemAvailablePercent: 5}, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotDisk, gotMem := tc.report.Below(cfg)
			if gotDisk != tc.wantDisk || gotMem != tc.wantMem {
				t.Errorf("Below() = (%v, %v), want (%v, %v)", gotDisk, gotMem, tc.wantDisk, tc.wantMem)
			}
		})
	}
}

func TestReport_Below_ThresholdsDisabledWhenZero(t *testing.T) {
	var cfg config.PreflightConfig
	report := Report{DiskFreeBytes: 0, MemAvailablePercent: 0}
	diskLow, memLow := report.Below(cfg)
	if diskLow || memLow {
		t.Errorf("expected no violations with zero-valued thresholds, got (%v, %v)", diskLow, memLow)
	}
}
