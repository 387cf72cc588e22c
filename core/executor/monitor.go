package executor

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSampleInterval is how often the Monitor samples runtime memory
// statistics.
const DefaultSampleInterval = 10 * time.Second

// DefaultSoftThresholdBytes triggers a GC nudge.
const DefaultSoftThresholdBytes = 512 * 1024 * 1024

// DefaultHardThresholdBytes invokes the registered overload callback.
const DefaultHardThresholdBytes = 1024 * 1024 * 1024

// DefaultSampleHistory is the number of most-recent samples retained.
const DefaultSampleHistory = 100

// Sample is one point-in-time resource reading.
type Sample struct {
	Timestamp  time.Time
	HeapAlloc  uint64
	Sys        uint64
	NumGC      uint32
	Goroutines int
}

// OverloadFunc is invoked when a sample crosses the hard threshold. The
// Monitor does not back-pressure the Router itself; callers register
// this hook to do that (e.g. temporarily reducing the Executor's
// concurrency limit, or refusing new requests at the transport layer).
type OverloadFunc func(Sample)

// Monitor periodically samples runtime.MemStats, retains a bounded
// history, and invokes a registered callback when usage crosses a hard
// threshold (periodic-sample-into-typed-struct, mutex-guarded read
// access). Uses runtime.MemStats directly rather than a third-party
// process-stats library, since memory pressure is already visible
// in-process without shelling out to the OS.
type Monitor struct {
	mu       sync.Mutex
	samples  []Sample
	interval time.Duration
	history  int

	softThreshold uint64
	hardThreshold uint64
	onOverload    OverloadFunc

	logger *zap.Logger
	stop   chan struct{}
	once   sync.Once
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithInterval(d time.Duration) Option       { return func(m *Monitor) { m.interval = d } }
func WithSoftThreshold(bytes uint64) Option     { return func(m *Monitor) { m.softThreshold = bytes } }
func WithHardThreshold(bytes uint64) Option     { return func(m *Monitor) { m.hardThreshold = bytes } }
func WithHistorySize(n int) Option              { return func(m *Monitor) { m.history = n } }
func WithOverloadCallback(fn OverloadFunc) Option { return func(m *Monitor) { m.onOverload = fn } }

// NewMonitor creates a Monitor with sensible default thresholds.
func NewMonitor(logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		interval:      DefaultSampleInterval,
		history:       DefaultSampleHistory,
		softThreshold: DefaultSoftThresholdBytes,
		hardThreshold: DefaultHardThresholdBytes,
		logger:        logger.With(zap.String("component", "resource_monitor")),
		stop:          make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins periodic sampling in a background goroutine. Stop ends it.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sampleOnce()
			}
		}
	}()
}

// Stop ends the sampling goroutine; safe to call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) sampleOnce() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Sample{
		Timestamp:  time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.samples = append(m.samples, s)
	if len(m.samples) > m.history {
		m.samples = m.samples[len(m.samples)-m.history:]
	}
	m.mu.Unlock()

	if m.softThreshold > 0 && s.HeapAlloc >= m.softThreshold {
		m.logger.Info("soft memory threshold crossed, requesting GC",
			zap.Uint64("heap_alloc", s.HeapAlloc), zap.Uint64("threshold", m.softThreshold))
		runtime.GC()
	}

	if m.hardThreshold > 0 && s.HeapAlloc >= m.hardThreshold {
		m.logger.Warn("hard memory threshold crossed",
			zap.Uint64("heap_alloc", s.HeapAlloc), zap.Uint64("threshold", m.hardThreshold))
		if m.onOverload != nil {
			m.onOverload(s)
		}
	}
}

// Current returns the most recent sample, or the zero value if none has
// been taken yet.
func (m *Monitor) Current() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return Sample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// History returns a copy of the retained sample history, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}
