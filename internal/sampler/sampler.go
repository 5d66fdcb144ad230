// Package sampler implements the Load Sampler (spec §4.2): a point-in-time
// read of host CPU, memory, and load-average utilization that the Adaptive
// Scheduler uses to drive its control law.
package sampler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/interfaces"
)

// cpuSampleInterval is the window gopsutil blocks over to compute a
// non-zero CPU percentage (spec §4.2).
const cpuSampleInterval = 500 * time.Millisecond

// Sampler implements interfaces.LoadSampler using gopsutil.
type Sampler struct {
	logger *common.Logger
}

// New returns a gopsutil-backed Sampler.
func New(logger *common.Logger) *Sampler {
	return &Sampler{logger: logger}
}

// Snapshot blocks for cpuSampleInterval to take a CPU utilization reading,
// then reads memory percent, 1-minute load average, and logical CPU count.
// On platforms without a load-average facility (e.g. Windows), LoadAvg1Min
// falls back to CPUPercent/100 * CPUCount, so LoadFactor equals
// CPUPercent/100, and Degraded is set (spec §4.2 fallback).
func (s *Sampler) Snapshot(ctx context.Context) (interfaces.Snapshot, error) {
	cpuCount := runtime.NumCPU()

	cpuPercents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return interfaces.Snapshot{}, fmt.Errorf("sample cpu: %w", err)
	}
	cpuPct := 0.0
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return interfaces.Snapshot{}, fmt.Errorf("sample memory: %w", err)
	}

	snap := interfaces.Snapshot{
		CPUPercent:    cpuPct,
		MemoryPercent: vm.UsedPercent,
		CPUCount:      cpuCount,
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load average unavailable, falling back to cpu-derived load factor")
		snap.Degraded = true
		snap.LoadAvg1Min = cpuPct / 100 * float64(cpuCount)
	} else {
		snap.LoadAvg1Min = avg.Load1
	}

	if cpuCount > 0 {
		snap.LoadFactor = snap.LoadAvg1Min / float64(cpuCount)
	}

	return snap, nil
}
