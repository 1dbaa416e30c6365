package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllamaClient(url string) *OllamaClient {
	c := NewOllamaClient(logger, url, nil, "test-model", 64)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestCopilot_LLM_OllamaClient_Complete(t *testing.T) {
	t.Parallel()

	t.Run("accumulates streamed chunks", func(t *testing.T) {
		t.Parallel()
		var got ollamaChatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/chat", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":"{\"route\":"},"done":false}` + "\n"))
			_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":" \"sql\"}"},"done":true}` + "\n"))
		}))
		defer srv.Close()

		out, err := newTestOllamaClient(srv.URL).Complete(context.Background(), "system", "user")
		require.NoError(t, err)
		assert.Equal(t, `{"route": "sql"}`, out)

		require.Len(t, got.Messages, 2)
		assert.Equal(t, "system", got.Messages[0].Role)
		assert.Equal(t, "user", got.Messages[1].Content)
		assert.Equal(t, "test-model", got.Model)
		assert.False(t, got.Stream)
	})

	t.Run("retries server errors", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				http.Error(w, "model loading", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"SELECT 1"},"done":true}`))
		}))
		defer srv.Close()

		out, err := newTestOllamaClient(srv.URL).Complete(context.Background(), "system", "user")
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", out)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestOllamaClient(srv.URL).Complete(context.Background(), "system", "user")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http 500")
		assert.Equal(t, int32(defaultOllamaTries), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `model "nope" not found`, http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestOllamaClient(srv.URL).Complete(context.Background(), "system", "user")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("error in stream", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":"out of memory"}`))
		}))
		defer srv.Close()

		_, err := newTestOllamaClient(srv.URL).Complete(context.Background(), "system", "user")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of memory")
	})

	t.Run("context deadline", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := newTestOllamaClient(srv.URL).Complete(ctx, "system", "user")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
