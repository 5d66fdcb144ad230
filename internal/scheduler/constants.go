package scheduler

import "time"

// Control-law and timing constants (spec §4.3).
const (
	ScalingInterval     = 30 * time.Second
	WorkerTimeout       = 180 * time.Second
	MaxConsecutiveErrors = 50

	TargetCPU          = 70.0
	MinCPU             = 60.0
	MaxCPU             = 80.0
	MaxLoadFactor      = 1.5
	CriticalLoadFactor = 2.0

	WorkerStep      = 10
	WorkerEmergency = 20
	BatchStep       = 10
	MinBatch        = 20
	MaxBatch        = 50
	MinWorkers      = 8
)

// TimeoutMessage is the exact MarkFileError message for a timed-out file
// (spec §4.3 step 4, and §8's "Timeout boundary" property asserts on the
// substring "timeout").
const TimeoutMessage = "Processing timeout (180s)"
