package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// GenerateResponse is the expected JSON response from the SQL generator.
type GenerateResponse struct {
	SQL         string   `json:"sql" jsonschema:"a single read-only SQL statement"`
	Confidence  *float64 `json:"confidence,omitempty" jsonschema:"confidence in [0, 1] that the query answers the question"`
	Explanation string   `json:"explanation,omitempty" jsonschema:"one sentence describing the query"`
}

// GenerateRequest is the input to one generation call.
type GenerateRequest struct {
	Question    Question
	Schema      string
	Constraints []Constraint
	// PriorSQL and PriorError are set on repair calls.
	PriorSQL   string
	PriorError string
}

const defaultGeneratorConfidence = 0.5

// Generator produces candidate SQL statements.
type Generator struct {
	log     *slog.Logger
	llm     LLMClient
	prompt  string
	timeout time.Duration
}

func NewGenerator(log *slog.Logger, llm LLMClient, prompt string, timeout time.Duration) *Generator {
	return &Generator{log: log, llm: llm, prompt: prompt, timeout: timeout}
}

// Generate returns the next SQL attempt with the given index. Errors wrap
// ErrGenerationTimeout or ErrGenerationFailed.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest, index int) (SQLAttempt, error) {
	systemPrompt := buildGeneratePrompt(g.prompt, req.Schema)
	userPrompt := buildGenerateUserPrompt(req)

	response, err := complete(ctx, g.llm, g.timeout, systemPrompt, userPrompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return SQLAttempt{}, fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
		}
		return SQLAttempt{}, fmt.Errorf("%w: LLM completion failed: %v", ErrGenerationFailed, err)
	}

	sql, confidence, explanation := parseGenerateResponse(response)
	if sql == "" {
		return SQLAttempt{}, fmt.Errorf("%w: no SQL in response", ErrGenerationFailed)
	}

	if g.log != nil {
		g.log.Debug("agent: generated sql", "question", req.Question.ID, "attempt", index, "sql", sql)
	}

	return SQLAttempt{
		Index:       index,
		SQL:         sql,
		PriorError:  req.PriorError,
		Confidence:  confidence,
		Explanation: explanation,
	}, nil
}

// parseGenerateResponse extracts SQL, confidence and explanation. JSON is
// preferred, then fenced code blocks, then text that looks like SQL, then any
// non-empty text, which the executor will reject or repair.
func parseGenerateResponse(response string) (string, float64, string) {
	response = strings.TrimSpace(response)

	if jsonStr := extractJSON(response); jsonStr != "" {
		var parsed GenerateResponse
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err == nil && strings.TrimSpace(parsed.SQL) != "" {
			confidence := defaultGeneratorConfidence
			if parsed.Confidence != nil {
				confidence = clamp01(*parsed.Confidence)
			}
			return cleanSQL(parsed.SQL), confidence, parsed.Explanation
		}
	}

	if sql := extractSQLFromCodeBlocks(response); sql != "" {
		return sql, defaultGeneratorConfidence, ""
	}
	if looksLikeSQL(response) {
		return cleanSQL(response), defaultGeneratorConfidence, ""
	}
	if response != "" && !strings.HasPrefix(response, "{") {
		return cleanSQL(response), defaultGeneratorConfidence / 2, ""
	}
	return "", 0, ""
}

// buildGeneratePrompt combines the static prompt with the schema summary.
func buildGeneratePrompt(staticPrompt, schema string) string {
	return staticPrompt + "\n\n## Database Schema\n\n```\n" + schema + "\n```"
}

func buildGenerateUserPrompt(req GenerateRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", req.Question.Text)
	if req.Question.FormatHint.Present() {
		fmt.Fprintf(&sb, "Answer format: %s\n\n", req.Question.FormatHint.Describe())
	}
	fmt.Fprintf(&sb, "Constraints:\n%s\n\n", formatConstraints(req.Constraints))
	if req.PriorError != "" {
		fmt.Fprintf(&sb, "The previous query failed.\n\nFailed SQL:\n```sql\n%s\n```\n\nDatabase error:\n%s\n\n", req.PriorSQL, req.PriorError)
		sb.WriteString("Write a corrected query.\n\n")
	}
	sb.WriteString("Respond with JSON only.")
	return sb.String()
}
