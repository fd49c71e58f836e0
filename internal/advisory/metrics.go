package advisory

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSampler reads host memory and CPU utilisation.
type SystemSampler interface {
	Sample(ctx context.Context) (memoryPct, cpuPct float64, err error)
}

// HostSampler samples via gopsutil.
type HostSampler struct{}

// Sample implements SystemSampler.
func (HostSampler) Sample(ctx context.Context) (float64, float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}

	// Interval 0 returns utilisation since the previous call, which avoids
	// blocking the iteration loop.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return vm.UsedPercent, 0, err
	}

	cpuPct := 0.0
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	return vm.UsedPercent, cpuPct, nil
}

var _ SystemSampler = HostSampler{}
