package scm

import (
	"context"
	"errors"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/cache"
)

// CachedClient wraps a Client and caches lookups that can not change: commits
// and files addressed by a full commit id, and tags by name.
type CachedClient struct {
	Client
	cache cache.Cache
	kb    *cache.CacheKeyBuilder
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient creates a new client with caching.
func NewCachedClient(client Client, cacheImpl cache.Cache) *CachedClient {
	return &CachedClient{
		Client: client,
		cache:  cacheImpl,
		kb:     cache.NewCacheKeyBuilder("scm"),
	}
}

func (c *CachedClient) Commit(ctx context.Context, repo, ref string) (*Commit, error) {
	if !fullSHA.MatchString(ref) {
		return c.Client.Commit(ctx, repo, ref)
	}

	cacheKey := c.kb.CommitKey(repo, ref)
	var cached Commit
	if err := c.cache.Get(cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		slogcontext.FromCtx(ctx).Warn("Cache error for commit", "key", cacheKey, "error", err)
	}

	commit, err := c.Client.Commit(ctx, repo, ref)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(cacheKey, commit, 7*24*time.Hour); err != nil {
		slogcontext.FromCtx(ctx).Warn("Failed to cache commit", "key", cacheKey, "error", err)
	}
	return commit, nil
}

func (c *CachedClient) FileContents(ctx context.Context, repo, path, ref string) (string, error) {
	if !fullSHA.MatchString(ref) {
		return c.Client.FileContents(ctx, repo, path, ref)
	}

	cacheKey := c.kb.FileKey(repo, path, ref)
	var cached string
	if err := c.cache.Get(cacheKey, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		slogcontext.FromCtx(ctx).Warn("Cache error for file", "key", cacheKey, "error", err)
	}

	content, err := c.Client.FileContents(ctx, repo, path, ref)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(cacheKey, content, 24*time.Hour); err != nil {
		slogcontext.FromCtx(ctx).Warn("Failed to cache file", "key", cacheKey, "error", err)
	}
	return content, nil
}

// Tag caches found tags only; a missing tag may be created later in the run.
func (c *CachedClient) Tag(ctx context.Context, repo, name string) (*Tag, error) {
	cacheKey := c.kb.TagKey(repo, name)
	var cached Tag
	if err := c.cache.Get(cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		slogcontext.FromCtx(ctx).Warn("Cache error for tag", "key", cacheKey, "error", err)
	}

	tag, err := c.Client.Tag(ctx, repo, name)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(cacheKey, tag, time.Hour); err != nil {
		slogcontext.FromCtx(ctx).Warn("Failed to cache tag", "key", cacheKey, "error", err)
	}
	return tag, nil
}

// Close cleans up the client
func (c *CachedClient) Close() error {
	return c.cache.Close()
}
