// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package containers implements generic (type-parameterized)
// containers.
package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a fixed-size least-recently-used cache, safe for
// concurrent use.  Use NewLRUCache to create one.
type LRUCache[K comparable, V any] struct {
	inner *lru.Cache
}

// NewLRUCache returns a cache holding at most size entries; a size
// below 1 is treated as 1.
func NewLRUCache[K comparable, V any](size int) *LRUCache[K, V] {
	c, err := lru.New(max(size, 1))
	if err != nil {
		// only fails for size <= 0
		panic(err)
	}
	return &LRUCache[K, V]{inner: c}
}

func (c *LRUCache[K, V]) Len() int { return c.inner.Len() }
func (c *LRUCache[K, V]) Purge()   { c.inner.Purge() }

// GetOrElse returns the cached value for key, calling fill on a miss
// and caching its result.  Concurrent misses on the same key may
// each call fill.
func (c *LRUCache[K, V]) GetOrElse(key K, fill func() V) V {
	if val, ok := c.inner.Get(key); ok {
		return val.(V) //nolint:forcetypeassert // only GetOrElse adds entries
	}
	val := fill()
	c.inner.Add(key, val)
	return val
}
