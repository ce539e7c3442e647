package sysmem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeGauge_CachesWithinInterval(t *testing.T) {
	p, err := NewRuntimeGauge(1<<30, time.Second)
	require.NoError(t, err)

	clock := time.Unix(1000, 0)
	reads := 0
	p.now = func() time.Time { return clock }
	p.read = func() uint64 {
		reads++
		return uint64(reads * 100)
	}

	inUse, budget := p.Sample()
	assert.Equal(t, uint64(100), inUse)
	assert.Equal(t, uint64(1<<30), budget)

	clock = clock.Add(500 * time.Millisecond)
	inUse, _ = p.Sample()
	assert.Equal(t, uint64(100), inUse, "sample should be cached")

	clock = clock.Add(time.Second)
	inUse, _ = p.Sample()
	assert.Equal(t, uint64(200), inUse)
	assert.Equal(t, 2, reads)
}

func TestRuntimeGauge_DefaultBudgetFromSystem(t *testing.T) {
	p, err := NewRuntimeGauge(0, 0)
	require.NoError(t, err)
	assert.Greater(t, p.Budget(), uint64(0))
}

func TestFixed(t *testing.T) {
	f := &Fixed{}
	f.Set(90, 100)
	inUse, budget := f.Sample()
	assert.Equal(t, uint64(90), inUse)
	assert.Equal(t, uint64(100), budget)
}
