package cache

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetPut(t *testing.T) {
	c := New[string, int](3)
	c.AddOrUpdate("a", 1)
	c.AddOrUpdate("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.AddOrUpdate("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](3)
	c.AddOrUpdate("a", 1)
	c.AddOrUpdate("b", 2)
	c.AddOrUpdate("c", 3)

	// Touch "a" so "b" becomes the oldest.
	_, _ = c.Get("a")

	evicted := c.AddOrUpdate("d", 4)
	assert.True(t, evicted)
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Contains("b"), "b should have been evicted")
	assert.True(t, c.Contains("a"))
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys())
	assert.Equal(t, uint64(1), c.Evictions())
}

func TestLRU_PeekDoesNotPromote(t *testing.T) {
	c := New[int, int](2)
	c.Put(1, 1)
	c.Put(2, 2)
	_, _ = c.Peek(1)
	c.Put(3, 3)
	assert.False(t, c.Contains(1))
}

func TestLRU_GetOrAdd(t *testing.T) {
	c := New[string, *int](2)
	calls := 0
	create := func() *int {
		calls++
		n := 0
		return &n
	}

	p1 := c.GetOrAdd("x", create)
	*p1 = 5
	p2 := c.GetOrAdd("x", create)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)

	c.GetOrAdd("y", create)
	c.GetOrAdd("z", create) // evicts x
	assert.False(t, c.Contains("x"))
	assert.Equal(t, 2, c.Len())
}

func TestLRU_OnEvict(t *testing.T) {
	c := New[string, int](1)
	var evicted []string
	c.OnEvict(func(k string, _ int) { evicted = append(evicted, k) })

	c.Put("a", 1)
	c.Put("b", 2)
	c.GetOrAdd("c", func() int { return 3 })
	assert.Equal(t, []string{"a", "b"}, evicted)
}

func TestLRU_RemoveClearRange(t *testing.T) {
	c := New[int, string](5)
	for i := 0; i < 5; i++ {
		c.Put(i, fmt.Sprint(i))
	}
	assert.True(t, c.Remove(2))
	assert.False(t, c.Remove(2))

	var seen []int
	c.Range(func(k int, _ string) bool {
		seen = append(seen, k)
		return len(seen) < 2
	})
	assert.Equal(t, []int{4, 3}, seen)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	c.Put(9, "9")
	assert.Equal(t, 1, c.Len())
}

func TestLRU_MinimumCapacity(t *testing.T) {
	c := New[int, int](0)
	assert.Equal(t, 1, c.Capacity())
	c.Put(1, 1)
	c.Put(2, 2)
	assert.Equal(t, 1, c.Len())
}

// TestLRU_NeverExceedsCapacity replays random operation sequences against a
// simple reference model and checks both the size bound and the eviction order.
func TestLRU_NeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		capacity := 1 + rng.Intn(8)
		c := New[int, int](capacity)
		var model []int // most recent last

		touch := func(k int) {
			for i, m := range model {
				if m == k {
					model = append(model[:i], model[i+1:]...)
					break
				}
			}
			model = append(model, k)
		}

		for op := 0; op < 200; op++ {
			k := rng.Intn(16)
			switch rng.Intn(3) {
			case 0:
				if _, ok := c.Get(k); ok {
					touch(k)
				}
			case 1:
				if !c.Contains(k) && len(model) == capacity {
					oldest := model[0]
					model = model[1:]
					c.AddOrUpdate(k, k)
					require.False(t, c.Contains(oldest), "expected %d to be evicted", oldest)
				} else {
					c.AddOrUpdate(k, k)
				}
				touch(k)
			case 2:
				c.GetOrAdd(k, func() int { return k })
				if len(model) == capacity && !containsInt(model, k) {
					model = model[1:]
				}
				touch(k)
			}
			require.LessOrEqual(t, c.Len(), capacity)
			require.Equal(t, len(model), c.Len())
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestLRU_Concurrent(t *testing.T) {
	c := New[int, int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.AddOrUpdate(g*1000+i, i)
				c.Get(i)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func BenchmarkLRU_AddOrUpdate(b *testing.B) {
	c := New[string, int](10000)
	keys := make([]string, 50000)
	for i := range keys {
		keys[i] = fmt.Sprintf("sub%d.example.com", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.AddOrUpdate(keys[i%len(keys)], i)
	}
}
