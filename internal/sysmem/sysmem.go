// Package sysmem samples heap usage against a memory budget. The reference
// table consults it before every insertion, so samples are cached for a
// short interval instead of stopping the world on each call.
package sysmem

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/treesync/errors"
)

// Gauge reports heap bytes in use and the budget they are measured against.
type Gauge interface {
	Sample() (inUse, budget uint64)
}

// DefaultInterval is how long a heap sample stays valid.
const DefaultInterval = 250 * time.Millisecond

// RuntimeGauge reads the Go heap via runtime.ReadMemStats.
type RuntimeGauge struct {
	mu       sync.Mutex
	budget   uint64
	interval time.Duration
	last     time.Time
	inUse    uint64
	now      func() time.Time
	read     func() uint64
}

// NewRuntimeGauge creates a gauge with the given budget in bytes.
// A zero budget means "total system memory", read once via gopsutil.
func NewRuntimeGauge(budget uint64, interval time.Duration) (*RuntimeGauge, error) {
	if budget == 0 {
		total, err := TotalMemory()
		if err != nil {
			return nil, err
		}
		budget = total
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &RuntimeGauge{
		budget:   budget,
		interval: interval,
		now:      time.Now,
		read:     heapAlloc,
	}, nil
}

// Sample returns the cached heap-in-use figure, refreshing it when stale.
func (p *RuntimeGauge) Sample() (uint64, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.last.IsZero() || now.Sub(p.last) >= p.interval {
		p.inUse = p.read()
		p.last = now
	}
	return p.inUse, p.budget
}

// Budget returns the configured heap budget in bytes.
func (p *RuntimeGauge) Budget() uint64 {
	return p.budget
}

// TotalMemory returns total system memory in bytes
func TotalMemory() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, nil
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Fixed is a Gauge with constant readings, useful for tests and for
// disabling pressure checks (budget 0 never reports pressure).
type Fixed struct {
	mu     sync.Mutex
	InUse  uint64
	Budget uint64
}

// Sample implements Gauge.
func (f *Fixed) Sample() (uint64, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.InUse, f.Budget
}

// Set updates the readings.
func (f *Fixed) Set(inUse, budget uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InUse, f.Budget = inUse, budget
}
