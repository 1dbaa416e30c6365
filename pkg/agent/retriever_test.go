package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopilot_Agent_Retriever_Retrieve(t *testing.T) {
	t.Parallel()

	hits := []RetrievedChunk{
		{DocID: "a", Index: 0, Score: 0.2},
		{DocID: "b", Index: 0, Score: 0.9},
		{DocID: "c", Index: 1, Score: 0.05},
		{DocID: "d", Index: 2, Score: 0.9},
		{DocID: "e", Index: 0, Score: 0},
	}

	t.Run("sorted stable and floored", func(t *testing.T) {
		t.Parallel()
		r := NewRetriever(logger, chunksOf(hits...), 5, 0.1)
		got := r.Retrieve(context.Background(), "q")
		require.Len(t, got, 3)
		assert.Equal(t, []string{"b::chunk0", "d::chunk2", "a::chunk0"}, []string{got[0].ID(), got[1].ID(), got[2].ID()})
	})

	t.Run("truncated to k", func(t *testing.T) {
		t.Parallel()
		r := NewRetriever(logger, chunksOf(hits...), 2, 0)
		got := r.Retrieve(context.Background(), "q")
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].DocID)
	})

	t.Run("search error yields empty", func(t *testing.T) {
		t.Parallel()
		r := NewRetriever(logger, &mockSearcher{SearchFunc: func(context.Context, string, int) ([]RetrievedChunk, error) {
			return nil, errors.New("index closed")
		}}, 3, 0)
		assert.Empty(t, r.Retrieve(context.Background(), "q"))
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		r := NewRetriever(logger, chunksOf(hits...), 5, 0)
		assert.Equal(t, r.Retrieve(context.Background(), "q"), r.Retrieve(context.Background(), "q"))
	})
}
