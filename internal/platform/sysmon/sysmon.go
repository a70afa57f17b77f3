// Package sysmon samples process memory so indexing runs can report their
// footprint between batches.
package sysmon

import "runtime"

// Snapshot holds memory metrics at a point in time.
type Snapshot struct {
	HeapAllocMB     uint64
	NumGC           uint32
	AvailableRAM_MB uint64
	PageFaults      uint64
}

// Capture takes a snapshot of the Go heap plus whatever the platform exposes.
func Capture() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := Snapshot{
		HeapAllocMB: ms.HeapAlloc / (1024 * 1024),
		NumGC:       ms.NumGC,
	}
	capturePlatform(&snap)

	return snap
}

// Args returns the snapshot as logger key/value pairs.
func (s Snapshot) Args() []any {
	args := []any{"heap_mb", s.HeapAllocMB, "gc", s.NumGC}
	if s.AvailableRAM_MB > 0 {
		args = append(args, "available_ram_mb", s.AvailableRAM_MB, "page_faults", s.PageFaults)
	}
	return args
}
