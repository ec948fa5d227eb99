package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/metric"
)

func TestNewLRU_InvalidSize(t *testing.T) {
	_, err := NewLRU[int](0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLRU_SetGet(t *testing.T) {
	c, err := NewLRU[string](2)
	require.NoError(t, err)

	created, err := c.Set("a", "1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("a", "2")
	require.NoError(t, err)
	assert.False(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	_, err = c.Set("", "x")
	assert.True(t, errors.IsInvalid(err))
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewLRU(2, WithEvictionCallback(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	_, _ = c.Get("a") // b is now oldest
	_, _ = c.Set("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"c", "a"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions())
	assert.Equal(t, int64(2), c.Stats().MaxSize())
}

func TestLRU_DeleteAndClear(t *testing.T) {
	var evicted []string
	c, err := NewLRU(4, WithEvictionCallback(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	_, _ = c.Set("c", 3)

	ok, err := c.Delete("b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Delete("b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Clear())
	assert.Zero(t, c.Size())
	assert.Equal(t, []string{"b", "a", "c"}, evicted)
}

func TestLRU_Stats(t *testing.T) {
	c, err := NewLRU[int](4)
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("b")

	summary := c.Stats().Summary()
	assert.Equal(t, int64(2), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.InDelta(t, 2.0/3.0, summary.HitRatio, 0.0001)
}

func TestLRU_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewLRU(2, WithMetrics[int](registry, "graphql_documents"))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Get("a")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "memoriam_cache_operations_total" {
			found = true
		}
	}
	assert.True(t, found)

	// same prefix twice is a registration conflict
	_, err = NewLRU(2, WithMetrics[int](registry, "graphql_documents"))
	assert.Error(t, err)
}

func TestLRU_Concurrent(t *testing.T) {
	c, err := NewLRU[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := string(rune('a' + (i+j)%26))
				_, _ = c.Set(key, j)
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 26)
}
