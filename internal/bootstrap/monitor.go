// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/massalabs/bootstrap-client/internal/config"
)

// Report is one point-in-time sample of local resource headroom.
type Report struct {
	DiskFreeBytes       uint64
	MemAvailablePercent float64
}

// CheckPreflight (C10) samples disk free space at path (typically the
// final-state store's filesystem) and available virtual memory. It never
// returns an error for low headroom — only for a gopsutil sampling
// failure — because running short on local resources is an operational
// warning, not a protocol failure.
func CheckPreflight(path string) (Report, error) {
	var report Report

	usage, err := disk.Usage(path)
	if err == nil {
		report.DiskFreeBytes = usage.Free
	}

	vm, memErr := mem.VirtualMemory()
	if memErr == nil {
		report.MemAvailablePercent = 100 - vm.UsedPercent
	}

	if err != nil {
		return report, err
	}
	return report, memErr
}

// Below reports which configured thresholds, if any, report violates.
func (r Report) Below(cfg config.PreflightConfig) (diskLow, memLow bool) {
	diskLow = cfg.MinFreeBytes > 0 && r.DiskFreeBytes < uint64(cfg.MinFreeBytes)
	memLow = cfg.MinFreeMemoryPercent > 0 && r.MemAvailablePercent < cfg.MinFreeMemoryPercent
	return diskLow, memLow
}
