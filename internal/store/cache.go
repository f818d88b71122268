// Package store holds local, process-scoped caches used by the gallery.
package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PayloadCache memoises blob payloads by id. Blob ids are immutable, so a
// cached payload never goes stale; entries only leave on eviction or Remove.
//
// A nil *PayloadCache is valid and caches nothing.
type PayloadCache struct {
	lru *lru.Cache[string, []byte]
}

// NewPayloadCache returns a cache holding at most size payloads. A size of
// zero or less disables caching and returns nil.
func NewPayloadCache(size int) (*PayloadCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &PayloadCache{lru: c}, nil
}

// Get retrieves a payload from the cache.
func (c *PayloadCache) Get(id string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(id)
}

// Add adds a payload to the cache.
func (c *PayloadCache) Add(id string, data []byte) {
	if c == nil {
		return
	}
	c.lru.Add(id, data)
}

// Has checks if an id is cached.
func (c *PayloadCache) Has(id string) bool {
	if c == nil {
		return false
	}
	return c.lru.Contains(id)
}

// Remove removes an id from the cache.
func (c *PayloadCache) Remove(id string) {
	if c == nil {
		return
	}
	c.lru.Remove(id)
}

// Retain drops every cached payload whose id is not in keep.
func (c *PayloadCache) Retain(keep map[string]struct{}) {
	if c == nil {
		return
	}
	for _, id := range c.lru.Keys() {
		if _, ok := keep[id]; !ok {
			c.lru.Remove(id)
		}
	}
}

// Len returns the number of cached payloads.
func (c *PayloadCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Clear clears the cache.
func (c *PayloadCache) Clear() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
