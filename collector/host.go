package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// HostStats is the operating-system side of resource sampling.
type HostStats interface {
	// CPUPercent blocks for interval and returns the average utilisation over it.
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	MemPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	// NetCounters returns bytes sent/received summed over all interfaces since boot.
	NetCounters(ctx context.Context) (sent, recv uint64, err error)
}

// GopsutilHost implements HostStats on top of gopsutil.
type GopsutilHost struct{}

// CPUPercent implements HostStats.
func (GopsutilHost) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("cpu percent: no data")
	}
	return pct[0], nil
}

// MemPercent implements HostStats.
func (GopsutilHost) MemPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	return v.UsedPercent, nil
}

// DiskPercent implements HostStats.
func (GopsutilHost) DiskPercent(ctx context.Context, path string) (float64, error) {
	d, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return d.UsedPercent, nil
}

// NetCounters implements HostStats.
func (GopsutilHost) NetCounters(ctx context.Context) (uint64, uint64, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, fmt.Errorf("net io counters: %w", err)
	}
	if len(counters) == 0 {
		return 0, 0, fmt.Errorf("net io counters: no data")
	}
	return counters[0].BytesSent, counters[0].BytesRecv, nil
}
