package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const (
	IndexTFIDF = "tfidf"
	IndexBleve = "bleve"
)

// Corpus is a loaded, chunked and indexed document set.
type Corpus struct {
	Chunks   []Chunk
	Searcher agent.Searcher
}

// Load reads every document from src, chunks it and builds the named index.
func Load(ctx context.Context, log *slog.Logger, src Source, kind string) (*Corpus, error) {
	docs, err := src.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrEmptyCorpus
	}
	chunks := ChunkAll(docs)

	var searcher agent.Searcher
	switch kind {
	case IndexTFIDF, "":
		searcher = NewTFIDFIndex(chunks)
	case IndexBleve:
		idx, err := NewBleveIndex(chunks)
		if err != nil {
			return nil, err
		}
		searcher = idx
	default:
		return nil, fmt.Errorf("unknown corpus index %q", kind)
	}

	if log != nil {
		log.Info("corpus: loaded", "documents", len(docs), "chunks", len(chunks), "index", kind)
	}
	return &Corpus{Chunks: chunks, Searcher: searcher}, nil
}
