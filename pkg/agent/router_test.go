package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCopilot_Agent_Router_Classify(t *testing.T) {
	t.Parallel()

	q := Question{ID: "q1", Text: "What is the return window for unopened Beverages?"}

	tests := []struct {
		name       string
		route      func(context.Context, string) (string, error)
		wantRoute  Route
		wantSource RouteSource
	}{
		{
			name:       "json response",
			route:      fixed(`{"route": "rag", "reasoning": "policy lookup"}`),
			wantRoute:  RouteRAG,
			wantSource: RouteSourceModel,
		},
		{
			name:       "fenced json",
			route:      fixed("```json\n{\"route\": \"SQL\"}\n```"),
			wantRoute:  RouteSQL,
			wantSource: RouteSourceModel,
		},
		{
			name:       "free text naming both sources",
			route:      fixed("This needs both rag and sql."),
			wantRoute:  RouteHybrid,
			wantSource: RouteSourceModel,
		},
		{
			name:       "bare word",
			route:      fixed("hybrid"),
			wantRoute:  RouteHybrid,
			wantSource: RouteSourceModel,
		},
		{
			name:       "unparsable falls back",
			route:      fixed("I cannot decide."),
			wantRoute:  RouteRAG,
			wantSource: RouteSourceFallback,
		},
		{
			name: "error falls back",
			route: func(context.Context, string) (string, error) {
				return "", errors.New("overloaded")
			},
			wantRoute:  RouteRAG,
			wantSource: RouteSourceFallback,
		},
		{
			name:       "timeout falls back",
			route:      blocking,
			wantRoute:  RouteRAG,
			wantSource: RouteSourceFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := NewRouter(logger, &mockLLM{RouteFunc: tt.route}, testPrompts.Route, 20*time.Millisecond)
			got := router.Classify(context.Background(), q)
			assert.Equal(t, tt.wantRoute, got.Route)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.True(t, got.Route.Valid())
		})
	}
}

func TestCopilot_Agent_Router_NilClientUsesFallback(t *testing.T) {
	t.Parallel()

	router := NewRouter(logger, nil, "", time.Second)
	got := router.Classify(context.Background(), Question{Text: "Anything at all?"})
	assert.Equal(t, RouteHybrid, got.Route)
	assert.Equal(t, RouteSourceFallback, got.Source)
}

func TestCopilot_Agent_FallbackRoute(t *testing.T) {
	t.Parallel()

	tests := map[string]Route{
		"According to the product policy, what is the return window for Beverages?":  RouteRAG,
		"Top 3 products by total revenue all-time.":                                  RouteSQL,
		"How many orders were placed in 1997?":                                       RouteSQL,
		"Using the AOV definition from the KPI docs, what was AOV during the campaign?": RouteHybrid,
		"Tell me something interesting.":                                             RouteHybrid,
	}
	for text, want := range tests {
		assert.Equal(t, want, FallbackRoute(text), text)
	}
}

func TestCopilot_Agent_NormalizeRoute(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Route{
		"rag":              RouteRAG,
		`"sql".`:           RouteSQL,
		"Route: HYBRID":    RouteHybrid,
		"use SQL, not RAG": RouteHybrid,
	} {
		got, ok := normalizeRoute(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := normalizeRoute("databases")
	assert.False(t, ok)
}
