package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUSetReplaces(t *testing.T) {
	c := New[string](4)
	c.Set("k", "old")
	c.Set("k", "new")

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUDefaultCapacity(t *testing.T) {
	c := New[int](0)
	assert.Equal(t, defaultCapacity, c.Capacity())
}

func TestLRUShardedCapacity(t *testing.T) {
	c := New[int](1000)
	assert.Len(t, c.shards, maxShards)

	total := 0
	for _, s := range c.shards {
		total += s.capacity
	}
	assert.Equal(t, 1000, total)

	for i := 0; i < 5000; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	assert.LessOrEqual(t, c.Len(), 1000)
}

func TestLRUGetOrLoad(t *testing.T) {
	c := New[int](8)
	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}

	v, hit, err := c.GetOrLoad("x", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 42, v)

	v, hit, err = c.GetOrLoad("x", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)

	_, _, err = c.GetOrLoad("y", func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)
	_, ok := c.Get("y")
	assert.False(t, ok, "errors must not be cached")
}

func TestLRUInvalidateAndClear(t *testing.T) {
	c := New[int](8)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := New[int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%100)
				if v, ok := c.Get(key); ok {
					assert.Equal(t, key, fmt.Sprintf("k%d", v))
					continue
				}
				c.Set(key, (g*31+i)%100)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
