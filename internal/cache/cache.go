package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common cache errors
var (
	ErrCacheMiss = errors.New("cache miss")
)

// Cache defines the interface for all cache implementations
type Cache interface {
	// Get retrieves a value from the cache
	Get(key string, value interface{}) error

	// Set stores a value in the cache with an optional TTL
	Set(key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error

	// Close cleans up the cache resources
	Close() error
}

// Entry represents a cached entry with metadata
type Entry struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsExpired checks if the cache entry has expired
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*e.ExpiresAt)
}

// newEntry encodes value as an entry that expires after ttl. A ttl of zero
// never expires.
func newEntry(value interface{}, ttl time.Duration) (Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal value: %w", err)
	}

	now := time.Now()
	entry := Entry{Data: data, CreatedAt: now}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}
	return entry, nil
}

// CacheKeyBuilder helps build consistent cache keys
type CacheKeyBuilder struct {
	prefix string
}

func NewCacheKeyBuilder(prefix string) *CacheKeyBuilder {
	return &CacheKeyBuilder{prefix: prefix}
}

// CommitKey is the key of a commit looked up by its full id.
func (b *CacheKeyBuilder) CommitKey(repo, sha string) string {
	return b.buildKey("commit", repo, sha)
}

// FileKey is the key of a file read at a full commit id.
func (b *CacheKeyBuilder) FileKey(repo, path, sha string) string {
	return b.buildKey("file", repo, sha, path)
}

func (b *CacheKeyBuilder) TagKey(repo, name string) string {
	return b.buildKey("tag", repo, name)
}

func (b *CacheKeyBuilder) buildKey(parts ...interface{}) string {
	key := b.prefix
	for _, part := range parts {
		key += ":" + toString(part)
	}
	return key
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return fmt.Sprintf("%d", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// NewDefaultCache returns the on-disk cache in the user cache directory.
func NewDefaultCache() (Cache, error) {
	return NewFileCache("autodeploy")
}

// New builds a cache by kind: "file", "memory" or "none".
func New(kind string) (Cache, error) {
	switch kind {
	case "", "file":
		return NewDefaultCache()
	case "memory":
		return NewMemoryCache(DefaultMemorySize, DefaultMemoryTTL), nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache kind %q", kind)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(string, interface{}) error { return ErrCacheMiss }

func (Nop) Set(string, interface{}, time.Duration) error { return nil }

func (Nop) Delete(string) error { return nil }

func (Nop) Close() error { return nil }
