package column

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// readCache is a bounded, read-through LRU in front of an Index/Dict
// column's PK->value table, sized by DbDef.LRUSize. Peers that re-read
// the same hot keys across many Compose calls (cascades resolving a
// shared parent repeatedly, Dict columns with a small working set of
// distinct values) avoid a bbolt lookup on every hit.
type readCache struct {
	mu   sync.Mutex
	size int
	c    *lru.Cache
}

func newReadCache(size int) *readCache {
	return &readCache{size: size}
}

func (r *readCache) ensure() *lru.Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		// get/put already early-return when size <= 0, so by the time
		// ensure runs size is always positive.
		c, _ := lru.New(r.size)
		r.c = c
	}
	return r.c
}

func (r *readCache) get(key []byte) ([]byte, bool) {
	if r.size <= 0 {
		return nil, false
	}
	v, ok := r.ensure().Get(string(key))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (r *readCache) put(key, value []byte) {
	if r.size <= 0 {
		return
	}
	r.ensure().Add(string(key), value)
}
