package schema

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled registries kept by NewCache
// when given a non-positive size.
const DefaultCacheSize = 64

// Cache keeps recently compiled registries keyed by document content so that
// handles opening files with the same schema document share descriptors.
// Schemas whose name and content hash match one already cached are shared
// even across different documents. It is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[uint64, *Registry]
}

// NewCache returns a cache holding at most size registries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[uint64, *Registry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Compile returns the cached registry for doc, compiling it on a miss.
func (c *Cache) Compile(doc []byte) (*Registry, error) {
	h := xxhash.Sum64(doc)
	if r, ok := c.lru.Get(h); ok && bytes.Equal(r.doc, doc) {
		return r, nil
	}
	r, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	c.intern(r)
	c.lru.Add(h, r)
	return r, nil
}

// intern swaps each schema of r for an identical descriptor held by a cached
// registry.
func (c *Cache) intern(r *Registry) {
	cached := c.lru.Values()
	for name, s := range r.schemas {
		for _, other := range cached {
			if shared, ok := other.Intern(s.Key()); ok {
				r.schemas[name] = shared
				break
			}
		}
	}
}

// Len returns the number of cached registries.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every cached registry.
func (c *Cache) Purge() { c.lru.Purge() }
