// Package planner sizes the worker pool and writer batch from host resources.
package planner

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const mib = 1 << 20

// HostInfo is a snapshot of the machine the job runs on.
type HostInfo struct {
	CPUs            int
	TotalMemory     uint64
	AvailableMemory uint64
}

// Limits bounds the plan. Zero fields take the defaults.
type Limits struct {
	MaxWorkers     int `yaml:"max_workers" validate:"gte=0"`
	WorkerMemoryMB int `yaml:"worker_memory_mb" validate:"gte=0"`
	RecordBytes    int `yaml:"record_bytes" validate:"gte=0"`
	RecordsPerFile int `yaml:"records_per_file" validate:"gte=0"`
	MinBatch       int `yaml:"min_batch" validate:"gte=0"`
	MaxBatch       int `yaml:"max_batch" validate:"gte=0"`
}

// DefaultLimits returns the stock bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxWorkers:     8,
		WorkerMemoryMB: 512,
		RecordBytes:    200,
		RecordsPerFile: 1000,
		MinBatch:       500,
		MaxBatch:       500_000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxWorkers <= 0 {
		l.MaxWorkers = d.MaxWorkers
	}
	if l.WorkerMemoryMB <= 0 {
		l.WorkerMemoryMB = d.WorkerMemoryMB
	}
	if l.RecordBytes <= 0 {
		l.RecordBytes = d.RecordBytes
	}
	if l.RecordsPerFile <= 0 {
		l.RecordsPerFile = d.RecordsPerFile
	}
	if l.MinBatch <= 0 {
		l.MinBatch = d.MinBatch
	}
	if l.MaxBatch <= 0 {
		l.MaxBatch = d.MaxBatch
	}
	if l.MaxBatch < l.MinBatch {
		l.MaxBatch = l.MinBatch
	}
	return l
}

// Plan is the sizing decision for one run.
type Plan struct {
	Workers   int
	BatchSize int
}

func (p Plan) String() string {
	return fmt.Sprintf("workers=%d batch=%d", p.Workers, p.BatchSize)
}

// Inspect reads CPU and memory figures from the host. The CPU count is capped
// by GOMAXPROCS so container quotas are honoured.
func Inspect(ctx context.Context) (HostInfo, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if p := runtime.GOMAXPROCS(0); p < n {
		n = p
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostInfo{CPUs: n}, fmt.Errorf("virtual memory: %w", err)
	}
	return HostInfo{CPUs: n, TotalMemory: vm.Total, AvailableMemory: vm.Available}, nil
}

// Compute derives the plan for fileCount files. It is pure and never returns
// fewer than one worker or a batch outside [MinBatch, MaxBatch].
func Compute(h HostInfo, fileCount int, l Limits) Plan {
	l = l.withDefaults()
	return Plan{
		Workers:   workers(h, l),
		BatchSize: batchSize(h, fileCount, l),
	}
}

func workers(h HostInfo, l Limits) int {
	byCPU := min(max(h.CPUs, 1), l.MaxWorkers)
	byMem := l.MaxWorkers
	if h.TotalMemory > 0 {
		byMem = min(int(h.TotalMemory/(uint64(l.WorkerMemoryMB)*mib)), l.MaxWorkers)
	}
	return max(min(byCPU, byMem), 1)
}

func batchSize(h HostInfo, fileCount int, l Limits) int {
	byMem := l.MaxBatch
	if h.AvailableMemory > 0 {
		byMem = int(min(h.AvailableMemory/2/uint64(l.RecordBytes), uint64(l.MaxBatch)))
	}
	factor := fileCount / 10
	if fileCount < 100 {
		factor = fileCount / 2
	}
	byFiles := l.RecordsPerFile * factor
	return min(max(min(byMem, byFiles), l.MinBatch), l.MaxBatch)
}
