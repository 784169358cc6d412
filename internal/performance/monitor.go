// Package performance measures memory, timing and cache effectiveness of acquisition work.
package performance

import (
	"fmt"
	"os"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const bytesPerMB = 1024 * 1024

// MemoryStats describes resident memory around one operation.
type MemoryStats struct {
	InitialMB     float64       `json:"initial_memory_mb"`
	FinalMB       float64       `json:"final_memory_mb"`
	PeakMB        float64       `json:"peak_memory_mb"`
	AvgMB         float64       `json:"avg_memory_mb"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// BenchmarkResult summarises repeated runs of one operation, in milliseconds.
type BenchmarkResult struct {
	Operation  string    `json:"operation_name"`
	Iterations int       `json:"iterations"`
	AvgMs      float64   `json:"avg_time_ms"`
	MinMs      float64   `json:"min_time_ms"`
	MaxMs      float64   `json:"max_time_ms"`
	StdDevMs   float64   `json:"stddev_time_ms"`
	AllMs      []float64 `json:"all_times_ms"`
}

// SystemStats is a host-level resource snapshot.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	ProcessRSSMB  float64 `json:"process_rss_mb"`
}

// Monitor measures operations of the current process.
type Monitor struct {
	proc *process.Process
	log  zerolog.Logger
}

// NewMonitor creates a monitor bound to the running process.
func NewMonitor(log zerolog.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process handle: %w", err)
	}
	return &Monitor{
		proc: proc,
		log:  log.With().Str("component", "performance").Logger(),
	}, nil
}

// MonitorMemoryUsage runs op and samples resident memory before and after it.
// op's error is returned alongside whatever was measured.
func (m *Monitor) MonitorMemoryUsage(op func() error) (MemoryStats, error) {
	initial, err := m.rssMB()
	if err != nil {
		return MemoryStats{}, err
	}

	started := time.Now()
	opErr := op()
	elapsed := time.Since(started)

	final, err := m.rssMB()
	if err != nil {
		return MemoryStats{}, err
	}

	samples := []float64{initial, final}
	stats := MemoryStats{
		InitialMB:     initial,
		FinalMB:       final,
		PeakMB:        floats.Max(samples),
		AvgMB:         stat.Mean(samples, nil),
		ExecutionTime: elapsed,
	}

	m.log.Info().
		Float64("peak_mb", stats.PeakMB).
		Float64("avg_mb", stats.AvgMB).
		Dur("duration_ms", elapsed).
		Msg("Memory monitoring completed")

	return stats, opErr
}

// Benchmark runs op iterations times and reports timing statistics. It stops at the
// first failing iteration.
func (m *Monitor) Benchmark(name string, iterations int, op func() error) (BenchmarkResult, error) {
	if iterations < 1 {
		return BenchmarkResult{}, &domain.ValidationError{Field: "iterations", Message: "must be at least 1"}
	}

	times := make([]float64, 0, iterations)
	for i := 0; i < iterations; i++ {
		started := time.Now()
		if err := op(); err != nil {
			return BenchmarkResult{}, fmt.Errorf("benchmark %s failed on iteration %d: %w", name, i+1, err)
		}
		times = append(times, float64(time.Since(started).Microseconds())/1000)
	}

	result := summarise(name, times)
	m.log.Info().
		Str("operation", name).
		Float64("avg_ms", result.AvgMs).
		Float64("min_ms", result.MinMs).
		Float64("max_ms", result.MaxMs).
		Msg("Benchmark completed")

	return result, nil
}

func summarise(name string, times []float64) BenchmarkResult {
	result := BenchmarkResult{
		Operation:  name,
		Iterations: len(times),
		AvgMs:      stat.Mean(times, nil),
		MinMs:      floats.Min(times),
		MaxMs:      floats.Max(times),
		AllMs:      times,
	}
	if len(times) > 1 {
		result.StdDevMs = stat.StdDev(times, nil)
	}
	return result
}

// System samples host CPU over interval plus host and process memory.
func (m *Monitor) System(interval time.Duration) SystemStats {
	var stats SystemStats

	if pct, err := cpu.Percent(interval, false); err != nil {
		m.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		m.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		stats.MemoryPercent = vm.UsedPercent
	}

	if rss, err := m.rssMB(); err == nil {
		stats.ProcessRSSMB = rss
	}

	return stats
}

func (m *Monitor) rssMB() (float64, error) {
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read process memory: %w", err)
	}
	return float64(info.RSS) / bytesPerMB, nil
}
