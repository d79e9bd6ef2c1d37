package sharc

import (
	"container/list"
	"sync"
)

// arcEntry is the value held by every list.Element across T1/T2/B1/B2: T1/T2
// elements carry the page bytes, B1/B2 elements carry only the id (their
// page bytes have already been evicted).
type arcEntry struct {
	id   PageID
	page Page
}

// arcCache implements the Adaptive Replacement Cache algorithm: two LRU
// lists of resident pages (T1 recently-used-once, T2 used-at-least-twice)
// each shadowed by a ghost list of evicted ids (B1, B2) that let the cache
// adapt its T1/T2 balance to the workload's actual scan-vs-recency mix.
type arcCache struct {
	mu       sync.Mutex
	capacity int

	t1 *list.List
	t2 *list.List
	b1 *list.List
	b2 *list.List

	t1m map[PageID]*list.Element
	t2m map[PageID]*list.Element
	b1m map[PageID]*list.Element
	b2m map[PageID]*list.Element

	p int // target size for T1
}

func newARCCache(capacity int) *arcCache {
	if capacity < 1 {
		capacity = 1
	}
	return &arcCache{
		capacity: capacity,
		t1:       list.New(),
		t2:       list.New(),
		b1:       list.New(),
		b2:       list.New(),
		t1m:      make(map[PageID]*list.Element),
		t2m:      make(map[PageID]*list.Element),
		b1m:      make(map[PageID]*list.Element),
		b2m:      make(map[PageID]*list.Element),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// get returns a cached page and bumps its recency, or (nil, false) on a
// cold or ghost (B1/B2) miss. Ghost hits adapt p but never return page
// bytes, since the bytes are already gone by the time a page reaches B1/B2.
func (c *arcCache) get(id PageID) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.t1m[id]; ok {
		e := elem.Value.(*arcEntry)
		c.t1.Remove(elem)
		delete(c.t1m, id)
		ne := c.t2.PushFront(e)
		c.t2m[id] = ne
		return e.page, true
	}
	if elem, ok := c.t2m[id]; ok {
		c.t2.MoveToFront(elem)
		return elem.Value.(*arcEntry).page, true
	}
	if elem, ok := c.b1m[id]; ok {
		delta := 1
		if c.b1.Len() > 0 {
			delta = maxInt(1, c.b2.Len()/c.b1.Len())
		}
		c.p = clampInt(c.p+delta, 0, c.capacity)
		c.b1.Remove(elem)
		delete(c.b1m, id)
		c.replace(id)
		return nil, false
	}
	if elem, ok := c.b2m[id]; ok {
		delta := 1
		if c.b2.Len() > 0 {
			delta = maxInt(1, c.b1.Len()/c.b2.Len())
		}
		c.p = clampInt(c.p-delta, 0, c.capacity)
		c.b2.Remove(elem)
		delete(c.b2m, id)
		c.replace(id)
		return nil, false
	}
	return nil, false
}

// put inserts or updates a resident page, running ARC's replacement policy
// when the cache is at capacity.
func (c *arcCache) put(id PageID, page Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.t1m[id]; ok {
		e := elem.Value.(*arcEntry)
		e.page = page
		c.t1.Remove(elem)
		delete(c.t1m, id)
		ne := c.t2.PushFront(e)
		c.t2m[id] = ne
		return
	}
	if elem, ok := c.t2m[id]; ok {
		elem.Value.(*arcEntry).page = page
		c.t2.MoveToFront(elem)
		return
	}
	if elem, ok := c.b1m[id]; ok {
		delta := 1
		if c.b1.Len() > 0 {
			delta = maxInt(1, c.b2.Len()/c.b1.Len())
		}
		c.p = clampInt(c.p+delta, 0, c.capacity)
		c.b1.Remove(elem)
		delete(c.b1m, id)
		c.replace(id)
		ne := c.t2.PushFront(&arcEntry{id: id, page: page})
		c.t2m[id] = ne
		return
	}
	if elem, ok := c.b2m[id]; ok {
		delta := 1
		if c.b2.Len() > 0 {
			delta = maxInt(1, c.b1.Len()/c.b2.Len())
		}
		c.p = clampInt(c.p-delta, 0, c.capacity)
		c.b2.Remove(elem)
		delete(c.b2m, id)
		c.replace(id)
		ne := c.t2.PushFront(&arcEntry{id: id, page: page})
		c.t2m[id] = ne
		return
	}

	// Cold miss.
	l1 := c.t1.Len() + c.b1.Len()
	if l1 == c.capacity {
		if c.t1.Len() < c.capacity {
			oldest := c.b1.Back()
			delete(c.b1m, oldest.Value.(*arcEntry).id)
			c.b1.Remove(oldest)
			c.replace(id)
		} else {
			oldest := c.t1.Back()
			delete(c.t1m, oldest.Value.(*arcEntry).id)
			c.t1.Remove(oldest)
		}
	} else if l1 < c.capacity && c.t1.Len()+c.t2.Len() >= c.capacity {
		if c.t1.Len()+c.t2.Len()+c.b1.Len()+c.b2.Len() >= 2*c.capacity {
			oldest := c.b2.Back()
			delete(c.b2m, oldest.Value.(*arcEntry).id)
			c.b2.Remove(oldest)
		}
		c.replace(id)
	}
	ne := c.t1.PushFront(&arcEntry{id: id, page: page})
	c.t1m[id] = ne
}

// replace evicts one resident page into its ghost list to make room, unless
// id is already resident in T2 (in which case the caller is a ghost hit
// about to re-promote it and no eviction is needed).
func (c *arcCache) replace(id PageID) {
	if _, ok := c.t2m[id]; ok {
		return
	}
	if c.t1.Len() > 0 && (c.t1.Len() > c.p || (c.t1.Len() == c.p && c.b2.Len() > 0)) {
		oldest := c.t1.Back()
		e := oldest.Value.(*arcEntry)
		c.t1.Remove(oldest)
		delete(c.t1m, e.id)
		ne := c.b1.PushFront(&arcEntry{id: e.id})
		c.b1m[e.id] = ne
		return
	}
	if c.t2.Len() > 0 {
		oldest := c.t2.Back()
		e := oldest.Value.(*arcEntry)
		c.t2.Remove(oldest)
		delete(c.t2m, e.id)
		ne := c.b2.PushFront(&arcEntry{id: e.id})
		c.b2m[e.id] = ne
	}
}

// invalidate drops id from every list, used when a page is freed or
// truncated away so stale bytes can never resurface from the cache.
func (c *arcCache) invalidate(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.t1m[id]; ok {
		c.t1.Remove(elem)
		delete(c.t1m, id)
	}
	if elem, ok := c.t2m[id]; ok {
		c.t2.Remove(elem)
		delete(c.t2m, id)
	}
	if elem, ok := c.b1m[id]; ok {
		c.b1.Remove(elem)
		delete(c.b1m, id)
	}
	if elem, ok := c.b2m[id]; ok {
		c.b2.Remove(elem)
		delete(c.b2m, id)
	}
}

func (c *arcCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t1.Init()
	c.t2.Init()
	c.b1.Init()
	c.b2.Init()
	c.t1m = make(map[PageID]*list.Element)
	c.t2m = make(map[PageID]*list.Element)
	c.b1m = make(map[PageID]*list.Element)
	c.b2m = make(map[PageID]*list.Element)
	c.p = 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
