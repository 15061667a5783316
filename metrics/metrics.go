// metrics.go - counters, timers and gauges for the panel service
package metrics

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donomii/qospanel/syncmap"
)

// Collector collects service metrics. It is safe for concurrent use.
type Collector struct {
	name     string
	started  time.Time
	counters syncmap.SyncMap[string, *int64]
	gauges   syncmap.SyncMap[string, *uint64]
	timers   syncmap.SyncMap[string, *TimerMetric]
}

// TimerMetric tracks timing statistics
type TimerMetric struct {
	count      int64
	totalNanos int64
	minNanos   int64
	maxNanos   int64
	mu         sync.RWMutex
}

// Snapshot is a point-in-time view of metrics
type Snapshot struct {
	Service   string                `json:"service"`
	Timestamp int64                 `json:"timestamp"`
	UptimeSec float64               `json:"uptime_sec"`
	Counters  map[string]int64      `json:"counters"`
	Gauges    map[string]float64    `json:"gauges"`
	Timers    map[string]TimerStats `json:"timers"`
	Runtime   RuntimeStats          `json:"runtime"`
}

// TimerStats contains aggregated timer statistics
type TimerStats struct {
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_ms"`
	AvgMs   float64 `json:"avg_ms"`
	MinMs   float64 `json:"min_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// RuntimeStats contains Go runtime statistics
type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	MemAllocMB uint64 `json:"mem_alloc_mb"`
	MemSysMB   uint64 `json:"mem_sys_mb"`
	NumGC      uint32 `json:"num_gc"`
	NextGCMB   uint64 `json:"next_gc_mb"`
}

// NewCollector creates a collector labelled with the service name.
func NewCollector(name string) *Collector {
	return &Collector{name: name, started: time.Now()}
}

// IncrementCounter atomically increments a counter metric
func (c *Collector) IncrementCounter(name string) {
	c.AddCounter(name, 1)
}

// AddCounter atomically adds a value to a counter metric
func (c *Collector) AddCounter(name string, value int64) {
	counter, _ := c.counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(counter, value)
}

// Counter returns the current value of a counter.
func (c *Collector) Counter(name string) int64 {
	counter, ok := c.counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// SetGauge records the latest value of a gauge.
func (c *Collector) SetGauge(name string, value float64) {
	g, _ := c.gauges.LoadOrStore(name, new(uint64))
	atomic.StoreUint64(g, math.Float64bits(value))
}

// RecordTiming records a timing measurement
func (c *Collector) RecordTiming(name string, duration time.Duration) {
	timer, _ := c.timers.LoadOrStore(name, &TimerMetric{})

	timer.mu.Lock()
	defer timer.mu.Unlock()

	nanos := duration.Nanoseconds()
	timer.count++
	timer.totalNanos += nanos

	if timer.count == 1 || nanos < timer.minNanos {
		timer.minNanos = nanos
	}
	if timer.count == 1 || nanos > timer.maxNanos {
		timer.maxNanos = nanos
	}
}

// StartTimer returns a function that records the elapsed time under name.
func (c *Collector) StartTimer(name string) func() {
	started := time.Now()
	return func() { c.RecordTiming(name, time.Since(started)) }
}

// Snapshot captures the current metrics.
func (c *Collector) Snapshot() Snapshot {
	now := time.Now()
	snapshot := Snapshot{
		Service:   c.name,
		Timestamp: now.Unix(),
		UptimeSec: now.Sub(c.started).Seconds(),
		Counters:  make(map[string]int64),
		Gauges:    make(map[string]float64),
		Timers:    make(map[string]TimerStats),
		Runtime:   captureRuntimeStats(),
	}

	c.counters.Range(func(name string, counter *int64) bool {
		snapshot.Counters[name] = atomic.LoadInt64(counter)
		return true
	})

	c.gauges.Range(func(name string, g *uint64) bool {
		snapshot.Gauges[name] = math.Float64frombits(atomic.LoadUint64(g))
		return true
	})

	c.timers.Range(func(name string, timer *TimerMetric) bool {
		timer.mu.RLock()
		stats := TimerStats{
			Count:   timer.count,
			TotalMs: float64(timer.totalNanos) / 1000000.0,
			MinMs:   float64(timer.minNanos) / 1000000.0,
			MaxMs:   float64(timer.maxNanos) / 1000000.0,
		}
		if timer.count > 0 {
			stats.AvgMs = stats.TotalMs / float64(timer.count)
		}
		timer.mu.RUnlock()

		snapshot.Timers[name] = stats
		return true
	})

	return snapshot
}

// CounterNames lists the counters in the snapshot, sorted.
func (s Snapshot) CounterNames() []string {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func captureRuntimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		Goroutines: runtime.NumGoroutine(),
		MemAllocMB: memStats.Alloc / 1024 / 1024,
		MemSysMB:   memStats.Sys / 1024 / 1024,
		NumGC:      memStats.NumGC,
		NextGCMB:   memStats.NextGC / 1024 / 1024,
	}
}
