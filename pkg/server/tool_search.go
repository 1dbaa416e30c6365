package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

type SearchInput struct {
	Query string `json:"query" jsonschema:"free-text query over the document corpus"`
	K     int    `json:"k,omitempty" jsonschema:"maximum number of chunks to return (default 5)"`
}

type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

type SearchOutput struct {
	Chunks []SearchHit `json:"chunks"`
}

func RegisterSearchTool(log *slog.Logger, server *mcp.Server, searcher agent.Searcher, name string) error {
	if searcher == nil {
		return errors.New("searcher is required")
	}
	req, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create search input schema: %w", err)
	}
	res, err := jsonschema.For[SearchOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create search output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  `Search the document corpus. Returns the most relevant chunks with their citation ids ("<doc>::chunk<N>") and scores.`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling search", "query", req.Query, "k", req.K)

		out, err := handleSearch(ctx, searcher, req)
		observeTool(name, startTime, err)
		if err != nil {
			return nil, SearchOutput{}, err
		}
		return nil, out, nil
	})
	return nil
}

func handleSearch(ctx context.Context, searcher agent.Searcher, req SearchInput) (SearchOutput, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SearchOutput{}, errors.New("query is required")
	}
	k := req.K
	if k <= 0 {
		k = defaultSearchK
	}
	k = min(k, maxSearchK)

	chunks, err := searcher.Search(ctx, query, k)
	if err != nil {
		return SearchOutput{}, fmt.Errorf("failed to search corpus: %w", err)
	}
	hits := make([]SearchHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, SearchHit{ID: c.ID(), Score: c.Score, Text: c.Text})
	}
	return SearchOutput{Chunks: hits}, nil
}
