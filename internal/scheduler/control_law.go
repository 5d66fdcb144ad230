package scheduler

import "github.com/bobmcallan/piiscan/internal/interfaces"

// Adapt applies the priority-ordered control law (spec §4.3) to the
// current worker count and batch size given one Load Sampler snapshot.
// The first matching rule wins; later rules are not evaluated.
func Adapt(workers, batch int, snap interfaces.Snapshot) (newWorkers, newBatch int) {
	switch {
	case snap.LoadFactor > CriticalLoadFactor:
		reduction := WorkerEmergency
		if third := workers / 3; third > reduction {
			reduction = third
		}
		newWorkers = maxInt(MinWorkers, workers-reduction)
		newBatch = MinBatch

	case snap.LoadFactor > MaxLoadFactor:
		reduction := 2 * WorkerStep
		if fifth := workers / 5; fifth > reduction {
			reduction = fifth
		}
		newWorkers = maxInt(MinWorkers, workers-reduction)
		newBatch = batch

	case snap.CPUPercent < MinCPU && snap.MemoryPercent < 80 && snap.LoadFactor < 0.8:
		newWorkers = workers + WorkerStep
		newBatch = minInt(MaxBatch, batch+BatchStep)

	case snap.CPUPercent > MaxCPU || snap.MemoryPercent > 90:
		newWorkers = maxInt(MinWorkers, workers-WorkerStep)
		newBatch = maxInt(MinBatch, batch-BatchStep)

	default:
		newWorkers = workers
		newBatch = batch
	}

	return newWorkers, newBatch
}

// InitialWorkers derives the starting worker count from logical CPU count
// and total RAM in GB, per spec §4.3's tiered sizing table.
func InitialWorkers(cpuCount int, ramGB float64) int {
	c := float64(cpuCount)
	switch {
	case cpuCount >= 96:
		return minInt3(floorInt(0.5*c), floorInt(0.7*ramGB), 64)
	case cpuCount >= 32:
		return minInt3(24, floorInt(0.75*c), floorInt(0.6*ramGB))
	case cpuCount >= 8:
		return minInt(maxInt(4, floorInt(0.8*c)), floorInt(0.6*ramGB))
	default:
		return minInt(maxInt(2, floorInt(0.9*c)), floorInt(0.6*ramGB))
	}
}

func floorInt(f float64) int {
	return int(f)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minInt3(a, b, c int) int {
	return minInt(a, minInt(b, c))
}
