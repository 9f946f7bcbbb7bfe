package work

import (
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// memPerWorker is a conservative estimate of the peak memory one in-flight
// realization matrix needs at national-model scale.
const memPerWorker = 512 << 20

// DefaultWorkers sizes the worker pool from the host: one worker per
// logical CPU, capped by available memory so concurrent matrices do not
// push the process into swap.
func DefaultWorkers(log zerolog.Logger) int {
	workers, err := cpu.Counts(true)
	if err != nil || workers < 1 {
		workers = runtime.NumCPU()
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		memCap := int(vm.Available / memPerWorker)
		if memCap < 1 {
			memCap = 1
		}
		if memCap < workers {
			log.Warn().
				Int("cpu_workers", workers).
				Int("mem_workers", memCap).
				Uint64("available_bytes", vm.Available).
				Msg("capping worker pool by available memory")
			workers = memCap
		}
	}

	if workers < 1 {
		workers = 1
	}
	return workers
}
