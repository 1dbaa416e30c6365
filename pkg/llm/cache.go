package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/malbeclabs/copilot/pkg/agent"
	"github.com/malbeclabs/copilot/pkg/agent/metrics"
)

const DefaultCacheSize = 10_000

// CachedClient memoizes successful completions by prompt pair. Identical
// prompts within a run return identical text, which keeps repeated
// questions reproducible. Errors are never cached.
type CachedClient struct {
	next  agent.LLMClient
	cache *ristretto.Cache
}

// NewCachedClient wraps next with a cache holding up to size completions.
func NewCachedClient(next agent.LLMClient, size int64) (*CachedClient, error) {
	if next == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create completion cache: %w", err)
	}
	return &CachedClient{next: next, cache: cache}, nil
}

func (c *CachedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	key := cacheKey(systemPrompt, userPrompt)
	if val, ok := c.cache.Get(key); ok {
		metrics.LLMCacheLookups.WithLabelValues("hit").Inc()
		return val.(string), nil
	}
	metrics.LLMCacheLookups.WithLabelValues("miss").Inc()

	out, err := c.next.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, out, 1)
	return out, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedClient) Wait() {
	c.cache.Wait()
}

func (c *CachedClient) Close() {
	c.cache.Close()
}

func cacheKey(systemPrompt, userPrompt string) string {
	h := sha256.New()
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(userPrompt))
	return hex.EncodeToString(h.Sum(nil))
}
