package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics is one snapshot of host and process load
type SystemMetrics struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // Can exceed 100% on multi-core
	ProcessRSS        uint64
	MemoryUsed        uint64
	MemoryTotal       uint64
	MemoryPercent     float64
	DiskReadBps       float64
	DiskWriteBps      float64
	Timestamp         time.Time
}

// Collector periodically samples system metrics, logs them and mirrors them
// into the run's Prometheus gauges
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	run      *Run

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time

	mu   sync.RWMutex
	last *SystemMetrics
}

// NewCollector creates a collector. run may be nil.
func NewCollector(interval time.Duration, logger *zap.Logger, run *Run) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		run:      run,
	}
}

// Start samples until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last snapshot, nil before the first sample
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	m := c.sample()

	c.mu.Lock()
	c.last = m
	c.mu.Unlock()

	if c.run != nil {
		c.run.MemoryUsed.Set(float64(m.MemoryUsed))
		c.run.ProcessRSS.Set(float64(m.ProcessRSS))
		c.run.ProcessCPU.Set(m.ProcessCPUPercent)
	}

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.String("proc_rss", humanize.IBytes(m.ProcessRSS)),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("mem_used", humanize.IBytes(m.MemoryUsed)),
		zap.String("disk_r", humanize.IBytes(uint64(m.DiskReadBps))+"/s"),
		zap.String("disk_w", humanize.IBytes(uint64(m.DiskWriteBps))+"/s"),
	)
}

func (c *Collector) sample() *SystemMetrics {
	m := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSS = info.RSS
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsed = vmem.Used
		m.MemoryTotal = vmem.Total
	}
	m.DiskReadBps, m.DiskWriteBps = c.diskRates(m.Timestamp)
	return m
}

// diskRates returns read and write bytes per second since the previous sample
func (c *Collector) diskRates(now time.Time) (read, write float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	defer func() {
		c.lastDisk = counters
		c.lastDiskTime = now
	}()

	if c.lastDisk == nil {
		return 0, 0
	}
	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var r, w uint64
	for name, cur := range counters {
		prev, ok := c.lastDisk[name]
		if !ok {
			continue
		}
		// counters can wrap
		if cur.ReadBytes >= prev.ReadBytes {
			r += cur.ReadBytes - prev.ReadBytes
		}
		if cur.WriteBytes >= prev.WriteBytes {
			w += cur.WriteBytes - prev.WriteBytes
		}
	}
	return float64(r) / elapsed, float64(w) / elapsed
}
