package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Retriever fetches the top-k relevant chunks for a query.
type Retriever struct {
	log      *slog.Logger
	searcher Searcher
	k        int
	minScore float64
}

func NewRetriever(log *slog.Logger, searcher Searcher, k int, minScore float64) *Retriever {
	return &Retriever{log: log, searcher: searcher, k: k, minScore: minScore}
}

// Retrieve returns chunks scoring at least the relevance floor, most relevant
// first. Search failures are logged and yield an empty sequence.
func (r *Retriever) Retrieve(ctx context.Context, query string) []RetrievedChunk {
	if r.searcher == nil || r.k <= 0 {
		return nil
	}

	hits, err := r.searcher.Search(ctx, query, r.k)
	if err != nil {
		if r.log != nil {
			r.log.Warn("agent: corpus search failed", "error", err)
		}
		return nil
	}

	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score <= 0 || h.Score < r.minScore {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > r.k {
		out = out[:r.k]
	}
	return out
}

// formatChunks renders retrieved chunks for a prompt, labelled by citation id.
func formatChunks(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return "No documents retrieved."
	}
	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", c.ID(), c.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
