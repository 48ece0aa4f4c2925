package ffmpeg

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// sampleInterval is how often the monitor polls the kernel for CPU and
// memory figures.
const sampleInterval = time.Second

// ProcessStats is a point-in-time view of one encoder child: CPU and memory
// as reported by the kernel, plus the byte counters the delivery loop feeds
// in. Surfaced per session in the active streams report.
type ProcessStats struct {
	PID            int32   `json:"pid"`
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryRSSBytes uint64  `json:"memoryRssBytes"`
	MemoryRSSMB    float64 `json:"memoryRssMb"`
	MemoryPercent  float32 `json:"memoryPercent"`
	BytesRead      uint64  `json:"bytesRead"`
	BytesWritten   uint64  `json:"bytesWritten"`
	WriteRateBps   float64 `json:"writeRateBps"`
	UptimeMs       int64   `json:"uptimeMs"`
}

// ProcessMonitor samples resource usage of one encoder child. CPU and memory
// come from the kernel; byte counters come from the CountingReader and
// CountingWriter the delivery loop wraps around the process pipes.
type ProcessMonitor struct {
	pid       int32
	proc      *process.Process
	startedAt time.Time

	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64

	mu        sync.Mutex
	stats     ProcessStats
	running   bool
	lastBytes uint64
	lastAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the given child PID. Call Start to
// begin sampling and Stop once the process exits.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	pm := &ProcessMonitor{
		pid:       int32(pid),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	// A nil proc means the child is already gone; samples then carry only
	// the byte counters.
	pm.proc, _ = process.NewProcess(pm.pid)
	return pm
}

// Start begins periodic sampling.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.loop()
}

// Stop ends sampling. The last sample stays readable through Stats.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.mu.Unlock()
}

// Stats returns the most recent sample with live byte counters.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.Lock()
	stats := pm.stats
	pm.mu.Unlock()

	stats.PID = pm.pid
	stats.BytesWritten = pm.bytesWritten.Load()
	stats.BytesRead = pm.bytesRead.Load()
	stats.UptimeMs = time.Since(pm.startedAt).Milliseconds()
	return stats
}

// AddBytesWritten accounts bytes delivered to the client.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

// AddBytesRead accounts bytes consumed from the child's output pipe.
func (pm *ProcessMonitor) AddBytesRead(n uint64) {
	pm.bytesRead.Add(n)
}

func (pm *ProcessMonitor) loop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	pm.sample()
	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample()
		}
	}
}

// sample refreshes the kernel figures and the write rate.
func (pm *ProcessMonitor) sample() {
	now := time.Now()

	stats := ProcessStats{
		PID:      pm.pid,
		UptimeMs: now.Sub(pm.startedAt).Milliseconds(),
	}
	if pm.proc != nil {
		// Each getter can fail independently once the child exits; a
		// partial sample keeps whatever the kernel still answers.
		if cpu, err := pm.proc.Percent(0); err == nil {
			stats.CPUPercent = cpu
		}
		if mem, err := pm.proc.MemoryInfo(); err == nil {
			stats.MemoryRSSBytes = mem.RSS
			stats.MemoryRSSMB = float64(mem.RSS) / (1 << 20)
		}
		if pct, err := pm.proc.MemoryPercent(); err == nil {
			stats.MemoryPercent = pct
		}
	}

	written := pm.bytesWritten.Load()
	stats.BytesWritten = written
	stats.BytesRead = pm.bytesRead.Load()

	pm.mu.Lock()
	if !pm.lastAt.IsZero() {
		if dt := now.Sub(pm.lastAt); dt > 0 {
			stats.WriteRateBps = float64(written-pm.lastBytes) / dt.Seconds()
		} else {
			stats.WriteRateBps = pm.stats.WriteRateBps
		}
	}
	pm.lastBytes = written
	pm.lastAt = now
	pm.stats = stats
	pm.mu.Unlock()
}

// CountingWriter counts bytes written through it into the monitor's output
// counter. The pump wraps the client response writer with it so encoder
// throughput shows up in session stats.
type CountingWriter struct {
	w       io.Writer
	monitor *ProcessMonitor
}

// NewCountingWriter wraps w so successful writes feed the monitor.
func NewCountingWriter(w io.Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}

// CountingReader counts bytes read through it into the monitor's input
// counter. The pump wraps the encoder's stdout with it; a gap between bytes
// read and bytes written points at a stalled client.
type CountingReader struct {
	r       io.Reader
	monitor *ProcessMonitor
}

// NewCountingReader wraps r so successful reads feed the monitor.
func NewCountingReader(r io.Reader, monitor *ProcessMonitor) *CountingReader {
	return &CountingReader{r: r, monitor: monitor}
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.monitor != nil {
		cr.monitor.AddBytesRead(uint64(n))
	}
	return n, err
}
