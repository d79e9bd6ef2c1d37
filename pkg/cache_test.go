package sharc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func page(b byte) Page {
	p := make(Page, 8)
	p[0] = b
	return p
}

func TestARCCachePutGet(t *testing.T) {
	c := newARCCache(4)
	c.put(1, page(1))
	c.put(2, page(2))

	got, ok := c.get(1)
	require.True(t, ok)
	require.Equal(t, byte(1), got[0])

	_, ok = c.get(99)
	require.False(t, ok)
}

func TestARCCacheInvalidate(t *testing.T) {
	c := newARCCache(4)
	c.put(1, page(1))
	c.invalidate(1)
	_, ok := c.get(1)
	require.False(t, ok)
}

func TestARCCacheEvictsUnderPressure(t *testing.T) {
	c := newARCCache(2)
	for i := PageID(1); i <= 10; i++ {
		c.put(i, page(byte(i)))
	}
	// Capacity is small; cache must not grow unbounded. Some of the early
	// entries should have been evicted by the time we've inserted 10.
	hits := 0
	for i := PageID(1); i <= 10; i++ {
		if _, ok := c.get(i); ok {
			hits++
		}
	}
	require.Less(t, hits, 10)
	require.Greater(t, hits, 0)
}

func TestARCCacheRepeatedAccessPromotesToT2(t *testing.T) {
	c := newARCCache(4)
	c.put(1, page(1))
	// Access it again, which in the ARC algorithm should move it from T1
	// into T2 (the frequency list), making it resistant to eviction caused
	// by a burst of fresh one-time insertions.
	_, ok := c.get(1)
	require.True(t, ok)

	for i := PageID(2); i <= 20; i++ {
		c.put(i, page(byte(i)))
	}
	_, ok = c.get(1)
	require.True(t, ok, "frequently accessed page should survive eviction pressure")
}

func TestARCCacheReset(t *testing.T) {
	c := newARCCache(4)
	c.put(1, page(1))
	c.reset()
	_, ok := c.get(1)
	require.False(t, ok)
}
