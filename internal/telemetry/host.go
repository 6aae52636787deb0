// Package telemetry samples host load and turns it into platform-plausible
// telemetry for viewers and the health monitor.
package telemetry

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const gib = 1 << 30

// MemoryStats is a reading of system memory.
type MemoryStats struct {
	TotalGB     float64
	AvailableGB float64
	UsedGB      float64
	UsedPercent float64
}

// DiskStats is a reading of the filesystem holding a path.
type DiskStats struct {
	Path        string
	FreeGB      float64
	UsedPercent float64
}

// HostStats reads resource usage from the machine.
type HostStats interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (MemoryStats, error)
	Disk(ctx context.Context, path string) (DiskStats, error)
}

// Host reads resource usage through gopsutil.
type Host struct{}

// Compile-time check that Host implements HostStats.
var _ HostStats = Host{}

// CPUPercent returns total CPU utilization since the previous call.
func (Host) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}

// Memory returns system memory usage.
func (Host) Memory(ctx context.Context) (MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStats{}, fmt.Errorf("virtual memory: %w", err)
	}
	return MemoryStats{
		TotalGB:     float64(vm.Total) / gib,
		AvailableGB: float64(vm.Available) / gib,
		UsedGB:      float64(vm.Used) / gib,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// Disk returns usage of the filesystem containing path.
func (Host) Disk(ctx context.Context, path string) (DiskStats, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskStats{}, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return DiskStats{
		Path:        path,
		FreeGB:      float64(usage.Free) / gib,
		UsedPercent: usage.UsedPercent,
	}, nil
}
