package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/treesync/internal/sysmem"
)

func newShared(n int) []*shared {
	out := make([]*shared, n)
	for i := range out {
		out[i] = &shared{Name: string(rune('a' + i))}
	}
	return out
}

func TestRefTableCreateIsStable(t *testing.T) {
	refs := NewRefTable(RefTableOptions{Logger: zap.NewNop().Sugar()})
	s := newShared(2)

	id := refs.Create(s[0])
	assert.Equal(t, 1, id)
	assert.Equal(t, id, refs.Create(s[0]))
	assert.Equal(t, 2, refs.Create(s[1]))

	got, ok := refs.Get(s[0])
	require.True(t, ok)
	assert.Equal(t, 1, got)

	v, ok := refs.GetByRefID(2)
	require.True(t, ok)
	assert.Same(t, s[1], v)
	assert.True(t, refs.Has(1))
	assert.False(t, refs.Has(3))
}

func TestRefTableLRUBound(t *testing.T) {
	refs := NewRefTable(RefTableOptions{MaxEntries: 2, Logger: zap.NewNop().Sugar()})
	s := newShared(3)

	refs.Create(s[0])
	refs.Create(s[1])
	_, _ = refs.Get(s[0]) // s[1] is now the oldest
	refs.Create(s[2])

	assert.Equal(t, 2, refs.Len())
	_, ok := refs.Get(s[1])
	assert.False(t, ok)
	assert.False(t, refs.Has(2), "reverse mapping must leave with the entry")
	assert.True(t, refs.Has(1))
	assert.True(t, refs.Has(3))

	// An evicted value is simply assigned a new id.
	assert.Equal(t, 4, refs.Create(s[1]))
}

func TestRefTableClearKeepsIDsMonotonic(t *testing.T) {
	refs := NewRefTable(RefTableOptions{Logger: zap.NewNop().Sugar()})
	s := newShared(1)

	assert.Equal(t, 1, refs.Create(s[0]))
	refs.Clear()
	assert.Equal(t, 0, refs.Len())
	assert.False(t, refs.Has(1))
	assert.Equal(t, 2, refs.Create(s[0]))
}

func TestRefTableShrinksUnderPressure(t *testing.T) {
	gauge := &sysmem.Fixed{}
	gauge.Set(10, 100)
	refs := NewRefTable(RefTableOptions{
		MaxEntries:   8,
		MinFreeRatio: 0.1,
		ResizeFactor: 0.5,
		Gauge:        gauge,
		Logger:       zap.NewNop().Sugar(),
	})

	s := newShared(10)
	for _, v := range s[:8] {
		refs.Create(v)
	}
	require.Equal(t, 8, refs.Len())

	gauge.Set(95, 100)
	id := refs.Create(s[8])
	assert.Equal(t, 9, id)

	stats := refs.Stats()
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, 4, stats.Len)
	assert.Equal(t, 5, stats.Evicted)
	assert.Equal(t, 9, stats.LastRef)
	for ref := 1; ref <= 5; ref++ {
		assert.False(t, refs.Has(ref), "ref %d should be evicted", ref)
	}
	for ref := 6; ref <= 9; ref++ {
		assert.True(t, refs.Has(ref), "ref %d should be live", ref)
	}

	// Pressure gone: capacity grows back toward MaxEntries.
	gauge.Set(10, 100)
	refs.Create(s[9])
	stats = refs.Stats()
	assert.Equal(t, 8, stats.Capacity)
	assert.Equal(t, 5, stats.Len)
}

func TestRefTableZeroBudgetDisablesPressure(t *testing.T) {
	gauge := &sysmem.Fixed{}
	refs := NewRefTable(RefTableOptions{MaxEntries: 4, Gauge: gauge, Logger: zap.NewNop().Sugar()})
	for _, v := range newShared(4) {
		refs.Create(v)
	}
	assert.Equal(t, 4, refs.Stats().Capacity)
	assert.Equal(t, 4, refs.Len())
}

func TestRemoteRefs(t *testing.T) {
	r := NewRemoteRefs()
	r.Set(3, "x")
	assert.True(t, r.Has(3))
	assert.Equal(t, 1, r.Len())

	v, ok := r.Get(3)
	require.True(t, ok)
	assert.Equal(t, "x", v)

	r.Clear()
	assert.False(t, r.Has(3))
}
