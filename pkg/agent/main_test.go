package agent

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

var logger *slog.Logger

func TestMain(m *testing.M) {
	flag.Parse()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC3339,
		}))
	}
	os.Exit(m.Run())
}

var testPrompts = &Prompts{Route: "ROUTE", Generate: "GENERATE", Synthesize: "SYNTHESIZE"}

// mockLLM dispatches on the system prompt of each call site.
type mockLLM struct {
	RouteFunc      func(ctx context.Context, user string) (string, error)
	GenerateFunc   func(ctx context.Context, user string) (string, error)
	SynthesizeFunc func(ctx context.Context, user string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var site string
	var fn func(context.Context, string) (string, error)
	switch {
	case strings.HasPrefix(systemPrompt, testPrompts.Route):
		site, fn = "route", m.RouteFunc
	case strings.HasPrefix(systemPrompt, testPrompts.Generate):
		site, fn = "generate", m.GenerateFunc
	case strings.HasPrefix(systemPrompt, testPrompts.Synthesize):
		site, fn = "synthesize", m.SynthesizeFunc
	}
	m.mu.Lock()
	m.calls = append(m.calls, site)
	m.mu.Unlock()
	if fn == nil {
		return "", context.Canceled
	}
	return fn(ctx, userPrompt)
}

func (m *mockLLM) count(site string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == site {
			n++
		}
	}
	return n
}

// scripted returns responses in order, repeating the last one.
func scripted(responses ...string) func(context.Context, string) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return r, nil
	}
}

func fixed(response string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return response, nil }
}

// blocking waits for the call's context to end.
func blocking(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type mockSchema struct {
	tables map[string][]Column
	order  []string
}

func (m *mockSchema) ListTables(context.Context) ([]string, error) {
	return m.order, nil
}

func (m *mockSchema) DescribeTable(_ context.Context, table string) ([]Column, error) {
	return m.tables[table], nil
}

func northwindSchema() *mockSchema {
	return &mockSchema{
		order: []string{"Categories", "Order Details", "Orders", "Products"},
		tables: map[string][]Column{
			"Categories":    {{Name: "CategoryID", Type: "INTEGER"}, {Name: "CategoryName", Type: "TEXT"}},
			"Order Details": {{Name: "OrderID", Type: "INTEGER"}, {Name: "ProductID", Type: "INTEGER"}, {Name: "UnitPrice", Type: "REAL"}, {Name: "Quantity", Type: "INTEGER"}, {Name: "Discount", Type: "REAL"}},
			"Orders":        {{Name: "OrderID", Type: "INTEGER"}, {Name: "OrderDate", Type: "TEXT"}, {Name: "CustomerID", Type: "TEXT"}},
			"Products":      {{Name: "ProductID", Type: "INTEGER"}, {Name: "ProductName", Type: "TEXT"}, {Name: "CategoryID", Type: "INTEGER"}},
		},
	}
}

type mockEngine struct {
	RunQueryFunc func(ctx context.Context, sql string) ([]string, []Row, error)
}

func (m *mockEngine) RunQuery(ctx context.Context, sql string) ([]string, []Row, error) {
	return m.RunQueryFunc(ctx, sql)
}

type mockSearcher struct {
	SearchFunc func(ctx context.Context, query string, k int) ([]RetrievedChunk, error)
}

func (m *mockSearcher) Search(ctx context.Context, query string, k int) ([]RetrievedChunk, error) {
	if m.SearchFunc == nil {
		return nil, nil
	}
	return m.SearchFunc(ctx, query, k)
}

func chunksOf(chunks ...RetrievedChunk) *mockSearcher {
	return &mockSearcher{SearchFunc: func(context.Context, string, int) ([]RetrievedChunk, error) {
		return chunks, nil
	}}
}
