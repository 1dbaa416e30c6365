package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/malbeclabs/copilot/pkg/agent/prompts"
)

// Prompts holds the system prompts for each model call site.
type Prompts struct {
	Route      string
	Generate   string
	Synthesize string
}

// LoadPrompts loads the prompts from the embedded filesystem and appends the
// JSON Schema of each call site's response.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Route, err = loadPrompt("ROUTE.md", routeResponseSchema); err != nil {
		return nil, fmt.Errorf("failed to load ROUTE: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md", generateResponseSchema); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Synthesize, err = loadPrompt("SYNTHESIZE.md", synthesizeResponseSchema); err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE: %w", err)
	}
	return p, nil
}

func loadPrompt(path string, schema func() (*jsonschema.Schema, error)) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	s, err := schema()
	if err != nil {
		return "", fmt.Errorf("failed to build response schema: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal response schema: %w", err)
	}
	return strings.TrimSpace(string(data)) + "\n\n## Response JSON Schema\n\n```json\n" + string(b) + "\n```", nil
}

func routeResponseSchema() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[RouteResponse](nil)
	if err != nil {
		return nil, err
	}
	if prop, ok := s.Properties["route"]; ok {
		prop.Enum = []any{string(RouteRAG), string(RouteSQL), string(RouteHybrid)}
	}
	return s, nil
}

func generateResponseSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[GenerateResponse](nil)
}

func synthesizeResponseSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[SynthesizeResponse](nil)
}
