// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mbeema/capq/pkg/queue"
)

// Stats exposes daemon self-monitoring on top of the queue manager's
// counters.
type Stats struct {
	startTime time.Time
	manager   *queue.Manager
	proc      *process.Process
}

// NewStats creates a Stats instance bound to the queue manager.
func NewStats(manager *queue.Manager) *Stats {
	// Process lookup failure just disables RSS/CPU reporting.
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Stats{
		startTime: time.Now(),
		manager:   manager,
		proc:      proc,
	}
}

// Uptime returns daemon uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds     float64
	Goroutines        int
	MemoryRSSBytes    uint64
	CPUPercent        float64
	CapturedBlocks    uint64
	EnqueuedBlocks    uint64
	DroppedBlocks     uint64
	RegisteredReaders uint32
	OpenConnections   uint32
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: s.Uptime().Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if s.manager != nil {
		qs := s.manager.GetStatistics(0)
		snap.CapturedBlocks = qs.CapturedBlocks
		snap.EnqueuedBlocks = qs.EnqueuedBlocks
		snap.DroppedBlocks = qs.DroppedBlocks
		snap.RegisteredReaders = qs.RegisteredReaders
		snap.OpenConnections = qs.OpenConnections
	}

	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			snap.MemoryRSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
	}
	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()
	return prometheusFormat(snap)
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "capq_uptime_seconds", "gauge", "Daemon uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "capq_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "capq_memory_rss_bytes", "gauge", "Resident memory in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "capq_cpu_percent", "gauge", "Process CPU utilization percent", snap.CPUPercent)
	b = appendMetric(b, "capq_blocks_captured_total", "counter", "Total blocks offered to the queue", float64(snap.CapturedBlocks))
	b = appendMetric(b, "capq_blocks_enqueued_total", "counter", "Total per-reader block copies enqueued", float64(snap.EnqueuedBlocks))
	b = appendMetric(b, "capq_blocks_dropped_total", "counter", "Total block copies dropped", float64(snap.DroppedBlocks))
	b = appendMetric(b, "capq_readers", "gauge", "Registered readers", float64(snap.RegisteredReaders))
	b = appendMetric(b, "capq_open_connections", "gauge", "Entries in the open connection table", float64(snap.OpenConnections))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, f float64) []byte {
	// Use simple formatting; avoid importing strconv for this
	if f == float64(int64(f)) {
		return append(b, []byte(intToStr(int64(f)))...)
	}
	return append(b, []byte(floatToStr(f))...)
}

func intToStr(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte(n%10) + '0'
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func floatToStr(f float64) string {
	// Simple 6 decimal place formatting
	neg := f < 0
	if neg {
		f = -f
	}
	whole := int64(f)
	frac := int64((f - float64(whole)) * 1000000)
	if frac < 0 {
		frac = -frac
	}

	s := intToStr(whole) + "."
	fracStr := intToStr(frac)
	for len(fracStr) < 6 {
		fracStr = "0" + fracStr
	}
	s += fracStr

	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	if neg {
		s = "-" + s
	}
	return s
}
