package rpc

import (
	gosync "sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"

	"github.com/teranos/treesync/internal/sysmem"
	"github.com/teranos/treesync/logger"
)

// Reference table defaults.
const (
	DefaultMaxRefs      = 100_000
	DefaultMinFreeRatio = 0.1
	DefaultResizeFactor = 0.5
)

// RefTableOptions configures a RefTable. Zero values select defaults.
type RefTableOptions struct {
	MaxEntries   int
	MinFreeRatio float64
	ResizeFactor float64

	// Gauge reports heap pressure. Nil disables the pressure check and the
	// table is bounded by MaxEntries alone.
	Gauge sysmem.Gauge

	Logger *zap.SugaredLogger
}

// RefTable is the sender-side identity table: a bounded LRU from shared
// value identity to ref id, plus the reverse map. An entry leaves both maps
// in the same eviction, so lookups never observe half an entry.
//
// Eviction is routine: the sender simply sends the full value again under
// a fresh ref id.
type RefTable struct {
	mu gosync.Mutex

	lru   *simplelru.LRU // identity -> ref id
	byRef map[int]any    // ref id -> identity
	next  int

	maxEntries   int
	capacity     int
	minFreeRatio float64
	resizeFactor float64
	gauge        sysmem.Gauge
	evicted      int

	logger *zap.SugaredLogger
}

// RefTableStats is a point-in-time view of a RefTable.
type RefTableStats struct {
	Len      int `json:"len"`
	Capacity int `json:"capacity"`
	Evicted  int `json:"evicted"`
	LastRef  int `json:"last_ref"`
}

// NewRefTable creates a reference table.
func NewRefTable(opts RefTableOptions) *RefTable {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxRefs
	}
	if opts.MinFreeRatio <= 0 || opts.MinFreeRatio >= 1 {
		opts.MinFreeRatio = DefaultMinFreeRatio
	}
	if opts.ResizeFactor <= 0 || opts.ResizeFactor >= 1 {
		opts.ResizeFactor = DefaultResizeFactor
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}

	t := &RefTable{
		byRef:        make(map[int]any),
		maxEntries:   opts.MaxEntries,
		capacity:     opts.MaxEntries,
		minFreeRatio: opts.MinFreeRatio,
		resizeFactor: opts.ResizeFactor,
		gauge:        opts.Gauge,
		logger:       opts.Logger,
	}
	// NewLRU only fails for a non-positive size, ruled out above.
	t.lru, _ = simplelru.NewLRU(opts.MaxEntries, t.onEvict)
	return t
}

// onEvict drops the reverse mapping. It runs inside lru calls made with
// t.mu held and must not lock.
func (t *RefTable) onEvict(_ interface{}, value interface{}) {
	delete(t.byRef, value.(int))
	t.evicted++
}

// Create returns the ref id for v, assigning the next id if v has none.
func (t *RefTable) Create(v any) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.lru.Get(v); ok {
		return id.(int)
	}

	t.relievePressure()

	t.next++
	id := t.next
	t.lru.Add(v, id)
	t.byRef[id] = v
	return id
}

// Get returns the ref id assigned to v, refreshing its recency.
func (t *RefTable) Get(v any) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.lru.Get(v)
	if !ok {
		return 0, false
	}
	return id.(int), true
}

// Has reports whether ref id is live.
func (t *RefTable) Has(ref int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byRef[ref]
	return ok
}

// GetByRefID returns the value registered under ref.
func (t *RefTable) GetByRefID(ref int) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.byRef[ref]
	return v, ok
}

// Len returns the number of live entries.
func (t *RefTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// Clear drops every entry and restores full capacity. Ref ids keep
// counting up so a stale id is never reissued for a different value.
func (t *RefTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lru.Purge()
	if t.capacity != t.maxEntries {
		t.capacity = t.maxEntries
		t.lru.Resize(t.capacity)
	}
}

// Stats returns current counters.
func (t *RefTable) Stats() RefTableStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RefTableStats{
		Len:      t.lru.Len(),
		Capacity: t.capacity,
		Evicted:  t.evicted,
		LastRef:  t.next,
	}
}

// relievePressure shrinks capacity while the heap is above
// (1 - minFreeRatio) of its budget, and grows it back toward maxEntries
// once the heap has room again. Caller holds t.mu.
func (t *RefTable) relievePressure() {
	if t.gauge == nil {
		return
	}
	inUse, budget := t.gauge.Sample()
	if budget == 0 {
		return
	}

	if float64(inUse) > float64(budget)*(1-t.minFreeRatio) {
		base := t.lru.Len()
		if base > t.capacity {
			base = t.capacity
		}
		target := int(float64(base) * t.resizeFactor)
		if target < 1 {
			target = 1
		}
		if target >= t.capacity && t.lru.Len() < t.capacity {
			return
		}
		evicted := t.lru.Resize(target)
		t.capacity = target
		t.logger.Debugw("Reference table shrunk under memory pressure",
			logger.FieldCapacity, target,
			logger.FieldEvicted, evicted,
			logger.FieldHeapUsed, inUse,
		)
		return
	}

	if t.capacity < t.maxEntries {
		grown := int(float64(t.capacity) / t.resizeFactor)
		if grown <= t.capacity {
			grown = t.capacity + 1
		}
		if grown > t.maxEntries {
			grown = t.maxEntries
		}
		t.capacity = grown
		t.lru.Resize(grown)
	}
}
