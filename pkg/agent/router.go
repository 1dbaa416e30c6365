package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/malbeclabs/copilot/pkg/agent/metrics"
)

// RouteResponse is the expected JSON response from the route classifier.
type RouteResponse struct {
	Route     string `json:"route" jsonschema:"one of rag, sql or hybrid"`
	Reasoning string `json:"reasoning" jsonschema:"one sentence explaining the choice"`
}

// RouteDecision is the router's output for one question.
type RouteDecision struct {
	Route     Route
	Source    RouteSource
	Reasoning string
}

// Router classifies questions into routes. It never fails: when the model is
// unavailable or its output cannot be parsed, a keyword fallback is used.
type Router struct {
	log     *slog.Logger
	llm     LLMClient
	prompt  string
	timeout time.Duration
}

func NewRouter(log *slog.Logger, llm LLMClient, prompt string, timeout time.Duration) *Router {
	return &Router{log: log, llm: llm, prompt: prompt, timeout: timeout}
}

// Classify returns exactly one route for the question.
func (r *Router) Classify(ctx context.Context, q Question) RouteDecision {
	decision, err := r.classify(ctx, q)
	if err != nil {
		route := FallbackRoute(q.Text)
		if r.log != nil {
			r.log.Warn("agent: route classifier unavailable, using fallback",
				"question", q.ID, "route", route, "error", err)
		}
		decision = RouteDecision{Route: route, Source: RouteSourceFallback, Reasoning: err.Error()}
	}
	metrics.RouteDecisions.WithLabelValues(string(decision.Route), string(decision.Source)).Inc()
	return decision
}

func (r *Router) classify(ctx context.Context, q Question) (RouteDecision, error) {
	if r.llm == nil {
		return RouteDecision{}, fmt.Errorf("no classifier configured")
	}

	userPrompt := fmt.Sprintf("Question: %s\n\nRespond with JSON only.", q.Text)
	response, err := complete(ctx, r.llm, r.timeout, r.prompt, userPrompt)
	if err != nil {
		return RouteDecision{}, fmt.Errorf("LLM completion failed: %w", err)
	}

	if jsonStr := extractJSON(response); jsonStr != "" {
		var parsed RouteResponse
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err == nil {
			if route, ok := normalizeRoute(parsed.Route); ok {
				return RouteDecision{Route: route, Source: RouteSourceModel, Reasoning: parsed.Reasoning}, nil
			}
		}
	}
	if route, ok := normalizeRoute(response); ok {
		return RouteDecision{Route: route, Source: RouteSourceModel}, nil
	}
	return RouteDecision{}, fmt.Errorf("unrecognized route in response: %q", truncate(response, 200))
}

var routeWord = regexp.MustCompile(`(?i)\b(rag|sql|hybrid)\b`)

// normalizeRoute maps free-text classifier output onto a route. Output naming
// both rag and sql is hybrid.
func normalizeRoute(s string) (Route, bool) {
	s = strings.TrimSpace(s)
	if r := Route(strings.ToLower(strings.Trim(s, `"'.`))); r.Valid() {
		return r, true
	}

	var rag, sql, hybrid bool
	for _, m := range routeWord.FindAllString(s, -1) {
		switch strings.ToLower(m) {
		case "rag":
			rag = true
		case "sql":
			sql = true
		case "hybrid":
			hybrid = true
		}
	}
	switch {
	case hybrid, rag && sql:
		return RouteHybrid, true
	case sql:
		return RouteSQL, true
	case rag:
		return RouteRAG, true
	}
	return "", false
}

var (
	documentCues = []string{
		"policy", "policies", "return window", "returns", "definition", "define", "defined",
		"according to", "document", "docs", "calendar", "campaign", "guideline", "handbook", "rule",
	}
	databaseCues = []string{
		"how many", "total", "sum of", "average", "avg", "top ", "count", "revenue", "highest",
		"lowest", "most", "least", "number of", "quantity", "sales", "orders", "customers",
		"aov", "margin",
	}
	yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// FallbackRoute classifies a question by keyword cues. Questions with cues for
// only one source go there; everything else is hybrid.
func FallbackRoute(text string) Route {
	lower := strings.ToLower(text)

	var doc, db bool
	for _, cue := range documentCues {
		if strings.Contains(lower, cue) {
			doc = true
			break
		}
	}
	for _, cue := range databaseCues {
		if strings.Contains(lower, cue) {
			db = true
			break
		}
	}
	if yearPattern.MatchString(lower) {
		db = true
	}

	switch {
	case doc && !db:
		return RouteRAG
	case db && !doc:
		return RouteSQL
	}
	return RouteHybrid
}

// complete calls the model with a per-call timeout.
func complete(ctx context.Context, llm LLMClient, timeout time.Duration, systemPrompt, userPrompt string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return llm.Complete(ctx, systemPrompt, userPrompt)
}
