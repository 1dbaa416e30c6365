package agent

import (
	"context"
)

// LLMClient is the interface for interacting with a language model.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SchemaAccessor exposes database schema introspection.
type SchemaAccessor interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
}

// QueryEngine runs read-only SQL. Errors are returned with the engine's
// message intact.
type QueryEngine interface {
	RunQuery(ctx context.Context, sql string) (columns []string, rows []Row, err error)
}

// Searcher ranks corpus chunks for a query, most relevant first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]RetrievedChunk, error)
}
