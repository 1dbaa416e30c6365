package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls atomic.Int32
	err   error
}

func (c *countingClient) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return systemPrompt + "|" + userPrompt + "|" + string(rune('0'+n)), nil
}

func TestCopilot_LLM_CachedClient(t *testing.T) {
	t.Parallel()

	t.Run("memoizes successful completions", func(t *testing.T) {
		t.Parallel()
		next := &countingClient{}
		c, err := NewCachedClient(next, 100)
		require.NoError(t, err)
		defer c.Close()

		first, err := c.Complete(context.Background(), "sys", "user")
		require.NoError(t, err)
		c.Wait()
		second, err := c.Complete(context.Background(), "sys", "user")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), next.calls.Load())

		other, err := c.Complete(context.Background(), "sys", "other")
		require.NoError(t, err)
		assert.NotEqual(t, first, other)
		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()
		next := &countingClient{err: errors.New("unavailable")}
		c, err := NewCachedClient(next, 100)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Complete(context.Background(), "sys", "user")
		require.Error(t, err)
		c.Wait()
		_, err = c.Complete(context.Background(), "sys", "user")
		require.Error(t, err)
		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("prompt boundary is part of the key", func(t *testing.T) {
		t.Parallel()
		assert.NotEqual(t, cacheKey("ab", "c"), cacheKey("a", "bc"))
	})

	t.Run("requires next client", func(t *testing.T) {
		t.Parallel()
		_, err := NewCachedClient(nil, 10)
		require.Error(t, err)
	})
}

func TestCopilot_LLM_New(t *testing.T) {
	t.Parallel()

	_, err := New(logger, Config{})
	require.EqualError(t, err, "provider is required")

	_, err = New(logger, Config{Provider: "openai"})
	require.Error(t, err)

	client, err := New(logger, Config{Provider: ProviderOllama, CacheSize: -1})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, client)

	client, err = New(logger, Config{Provider: ProviderAnthropic, APIKey: "test"})
	require.NoError(t, err)
	assert.IsType(t, &CachedClient{}, client)
}
