package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMemorySize = 1024
	DefaultMemoryTTL  = time.Hour
)

// MemoryCache is a bounded in-process cache. Values are stored as JSON so a
// Get behaves exactly like it does for FileCache.
//
// The LRU evicts everything after maxTTL; shorter per-entry TTLs are checked
// on read.
type MemoryCache struct {
	lru *expirable.LRU[string, Entry]
}

func NewMemoryCache(size int, maxTTL time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, Entry](size, nil, maxTTL)}
}

func (c *MemoryCache) Get(key string, value interface{}) error {
	entry, ok := c.lru.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	if entry.IsExpired() {
		c.lru.Remove(key)
		return ErrCacheMiss
	}

	if err := json.Unmarshal(entry.Data, value); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}

func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	entry, err := newEntry(value, ttl)
	if err != nil {
		return err
	}
	c.lru.Add(key, entry)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
