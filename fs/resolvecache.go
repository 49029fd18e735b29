package fs

import (
	"container/list"

	"corekernel/ksync"
)

// resolveKey is a path resolution lookup key: a directory inode
// number and one of its entry names.
type resolveKey struct {
	parent uint64
	name   string
}

type resolveEntry struct {
	key   resolveKey
	child uint64
}

// ResolveCache memoizes (parent_inode, name) -> child_inode path
// resolution lookups, cache-until-stale: the only place a mapping can
// go stale under this file system's single-global-lock concurrency
// model is an Insert or Remove of that same key, so both invalidate
// it directly rather than relying on a TTL.
type ResolveCache struct {
	lock     ksync.FastSpinlock
	capacity int
	lru      *list.List
	index    map[resolveKey]*list.Element
}

// NewResolveCache returns an empty cache holding up to capacity
// entries.
func NewResolveCache(capacity int) *ResolveCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResolveCache{
		capacity: capacity,
		lru:      list.New(),
		index:    make(map[resolveKey]*list.Element),
	}
}

// Lookup returns the cached child inode for (parent, name), if any.
func (c *ResolveCache) Lookup(parent uint64, name string) (uint64, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	key := resolveKey{parent, name}
	el, ok := c.index[key]
	if !ok {
		return 0, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*resolveEntry).child, true
}

// Insert records that (parent, name) resolves to child, evicting the
// least-recently-used entry if the cache is full.
func (c *ResolveCache) Insert(parent uint64, name string, child uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	key := resolveKey{parent, name}
	if el, ok := c.index[key]; ok {
		el.Value.(*resolveEntry).child = child
		c.lru.MoveToFront(el)
		return
	}
	if c.lru.Len() >= c.capacity {
		back := c.lru.Back()
		if back != nil {
			delete(c.index, back.Value.(*resolveEntry).key)
			c.lru.Remove(back)
		}
	}
	el := c.lru.PushFront(&resolveEntry{key: key, child: child})
	c.index[key] = el
}

// Invalidate drops any cached mapping for (parent, name), called
// whenever insert/remove changes what that name resolves to.
func (c *ResolveCache) Invalidate(parent uint64, name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	key := resolveKey{parent, name}
	if el, ok := c.index[key]; ok {
		delete(c.index, key)
		c.lru.Remove(el)
	}
}
