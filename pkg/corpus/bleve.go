package corpus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const textField = "text"

type bleveDoc struct {
	Text string `json:"text"`
}

// BleveIndex is an in-memory full-text index over the chunks. Scores are
// mapped into (0, 1) with s/(1+s) so they are comparable with the
// retriever's score floor.
type BleveIndex struct {
	index  bleve.Index
	chunks map[string]Chunk
	order  map[string]int
}

func NewBleveIndex(chunks []Chunk) (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	x := &BleveIndex{
		index:  index,
		chunks: make(map[string]Chunk, len(chunks)),
		order:  make(map[string]int, len(chunks)),
	}
	batch := index.NewBatch()
	for i, c := range chunks {
		id := c.ID()
		x.chunks[id] = c
		x.order[id] = i
		if err := batch.Index(id, bleveDoc{Text: c.Text}); err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", id, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}
	return x, nil
}

// Search runs a match query against the chunk text. Ties keep corpus order.
func (x *BleveIndex) Search(ctx context.Context, query string, k int) ([]agent.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(textField)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	out := make([]agent.RetrievedChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c, ok := x.chunks[hit.ID]
		if !ok || hit.Score <= 0 {
			continue
		}
		out = append(out, agent.RetrievedChunk{
			DocID: c.DocID,
			Index: c.Index,
			Text:  c.Text,
			Score: hit.Score / (1 + hit.Score),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return x.order[out[i].ID()] < x.order[out[j].ID()]
	})
	return out, nil
}

func (x *BleveIndex) Close() error {
	return x.index.Close()
}
