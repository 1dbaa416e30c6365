package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SynthesizeResponse is the expected JSON response from the synthesizer.
type SynthesizeResponse struct {
	FinalAnswer any      `json:"final_answer" jsonschema:"the answer in exactly the requested format"`
	Explanation string   `json:"explanation" jsonschema:"one or two sentences on how the answer was derived"`
	Citations   []string `json:"citations" jsonschema:"identifiers of the document chunks actually used"`
}

// SynthesizeRequest is everything the synthesizer merges into an answer.
type SynthesizeRequest struct {
	Question    Question
	Route       Route
	Constraints []Constraint
	// Repair is nil when the route did not enter the SQL pipeline.
	Repair *RepairOutcome
	Chunks []RetrievedChunk
	// Tables are the known schema tables, used for citation extraction.
	Tables []string
}

// SynthesisReport records how the answer was produced.
type SynthesisReport struct {
	Coercion Coercion
	Fallback bool
	Errors   []ErrorKind
}

const maxResultRowsInPrompt = 50

// Synthesizer merges evidence into a typed, cited answer.
type Synthesizer struct {
	log     *slog.Logger
	llm     LLMClient
	prompt  string
	timeout time.Duration
}

func NewSynthesizer(log *slog.Logger, llm LLMClient, prompt string, timeout time.Duration) *Synthesizer {
	return &Synthesizer{log: log, llm: llm, prompt: prompt, timeout: timeout}
}

// Synthesize always returns an answer. Model failures fall back to a
// deterministic derivation from the evidence; type mismatches lower the
// confidence instead of failing.
func (s *Synthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (Answer, SynthesisReport) {
	var report SynthesisReport

	raw, explanation, declared, err := s.ask(ctx, req)
	if err != nil {
		if s.log != nil {
			s.log.Warn("agent: synthesis unavailable, deriving answer from evidence",
				"question", req.Question.ID, "error", err)
		}
		report.Fallback = true
		report.Errors = append(report.Errors, ErrorKindSynthesisUnavailable)
		raw, explanation, declared = fallbackAnswer(req)
	}

	value, coercion := Coerce(raw, req.Question.FormatHint)
	report.Coercion = coercion

	var notes []string
	if report.Fallback {
		notes = append(notes, capitalize(ErrorKindSynthesisUnavailable.Describe())+".")
	}
	if coercion == CoercionMismatch {
		report.Errors = append(report.Errors, ErrorKindSynthesisTypeMismatch)
		notes = append(notes, fmt.Sprintf("The answer could not be converted to the requested %s format.", req.Question.FormatHint))
	}

	var sql string
	var successfulSQL string
	signals := Signals{
		Route:             req.Route,
		Coercion:          coercion,
		SynthesisFallback: report.Fallback,
	}
	if req.Repair != nil {
		signals.SQLEntered = true
		signals.Repairs = req.Repair.Repairs()
		if last, ok := req.Repair.LastExecuted(); ok {
			sql = last.SQL
		}
		if attempt, found := req.Repair.Succeeded(); found {
			signals.SQLSucceeded = true
			signals.GeneratorConfidence = attempt.Confidence
			successfulSQL = attempt.SQL
		}
		last, executed := req.Repair.LastExecuted()
		switch req.Repair.State {
		case StateFailedExhausted:
			signals.RepairExhausted = true
			report.Errors = append(report.Errors, ErrorKindRepairExhausted)
			if executed && last.Result.Error != nil {
				notes = append(notes, fmt.Sprintf("The SQL query could not be repaired after %d attempts; last error: %s.",
					len(req.Repair.Attempts), last.Result.Error.Message))
			} else if !executed {
				notes = append(notes, fmt.Sprintf("The SQL query could not be repaired after %d attempts; no read-only statement was produced.",
					len(req.Repair.Attempts)))
			}
		case StateGenerationFailed, StateAborted:
			// A repair could not be generated; the last executed attempt failed.
			signals.RepairExhausted = true
			kind := ErrorKindGenerationFailed
			if req.Repair.GenerationTimedOut() {
				kind = ErrorKindGenerationTimeout
			}
			report.Errors = append(report.Errors, kind)
			if executed && last.Result.Error != nil {
				notes = append(notes, fmt.Sprintf("The SQL query failed and %s while repairing it; last error: %s.",
					kind.Describe(), last.Result.Error.Message))
			}
		}
	}
	if req.Route.UsesRetrieval() && len(req.Chunks) == 0 {
		report.Errors = append(report.Errors, ErrorKindRetrievalEmpty)
		if req.Route == RouteRAG {
			notes = append(notes, "No relevant documents were found.")
		}
	}
	for _, c := range req.Chunks {
		signals.ChunkScores = append(signals.ChunkScores, c.Score)
	}

	citations := mergeCitations(TablesInSQL(successfulSQL, req.Tables), usedChunkIDs(req.Chunks, declared, explanation))
	signals.Citations = len(citations)

	if len(notes) > 0 {
		explanation = strings.TrimSpace(explanation + " " + strings.Join(notes, " "))
	}

	return Answer{
		Value:       value,
		Explanation: explanation,
		Confidence:  Score(signals),
		SQL:         sql,
		Citations:   citations,
	}, report
}

func (s *Synthesizer) ask(ctx context.Context, req SynthesizeRequest) (any, string, []string, error) {
	if s.llm == nil {
		return nil, "", nil, fmt.Errorf("no synthesizer configured")
	}
	response, err := complete(ctx, s.llm, s.timeout, s.prompt, buildSynthesizeUserPrompt(req))
	if err != nil {
		return nil, "", nil, fmt.Errorf("LLM completion failed: %w", err)
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, "", nil, fmt.Errorf("no JSON in response: %q", truncate(response, 200))
	}
	var parsed SynthesizeResponse
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, "", nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return parsed.FinalAnswer, strings.TrimSpace(parsed.Explanation), parsed.Citations, nil
}

func buildSynthesizeUserPrompt(req SynthesizeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", req.Question.Text)
	fmt.Fprintf(&sb, "Required answer format: %s\n\n", req.Question.FormatHint.Describe())
	if len(req.Constraints) > 0 {
		fmt.Fprintf(&sb, "Constraints:\n%s\n\n", formatConstraints(req.Constraints))
	}

	if req.Repair != nil {
		sb.WriteString("## SQL Evidence\n\n")
		if last, ok := req.Repair.LastExecuted(); ok {
			fmt.Fprintf(&sb, "```sql\n%s\n```\n\n%s\n\n", last.SQL, FormatExecutionResult(last.Result))
		} else {
			sb.WriteString("No SQL query was executed.\n\n")
		}
	}
	if req.Route.UsesRetrieval() {
		fmt.Fprintf(&sb, "## Document Evidence\n\n%s\n\n", formatChunks(req.Chunks))
	}
	sb.WriteString("Respond with JSON only.")
	return sb.String()
}

// FormatExecutionResult renders an execution result for a prompt.
func FormatExecutionResult(r ExecutionResult) string {
	if r.Error != nil {
		return fmt.Sprintf("Error (%s): %s", r.Error.Kind, r.Error.Message)
	}
	if len(r.Rows) == 0 {
		return "Query returned no results."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(r.Columns, ", "))
	fmt.Fprintf(&sb, "Rows (%d total):\n", len(r.Rows))
	for i, row := range r.Rows {
		if i == maxResultRowsInPrompt {
			fmt.Fprintf(&sb, "... and %d more rows\n", len(r.Rows)-maxResultRowsInPrompt)
			break
		}
		values := make([]string, len(r.Columns))
		for j, col := range r.Columns {
			values[j] = formatValueForLLM(row[col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}
	return sb.String()
}

// formatValueForLLM rounds floats to 2 places so long decimals do not read as
// encoded values.
func formatValueForLLM(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		return formatValueForLLM(float64(val))
	}
	return truncate(fmt.Sprint(normalizeValue(v)), 100)
}

// fallbackAnswer derives an answer without the model: from the successful
// row set when there is one, otherwise from the top chunk.
func fallbackAnswer(req SynthesizeRequest) (any, string, []string) {
	if req.Repair != nil {
		if attempt, found := req.Repair.Succeeded(); found {
			return valueFromRows(attempt.Result, req.Question.FormatHint), "Answer taken directly from the SQL result.", nil
		}
	}
	if len(req.Chunks) > 0 {
		top := req.Chunks[0]
		return top.Text, fmt.Sprintf("Answer taken from the most relevant document chunk [%s].", top.ID()), []string{top.ID()}
	}
	return nil, "No evidence was available to answer the question.", nil
}

// valueFromRows shapes a row set for coercion: a single cell for scalar hints,
// the first column for string lists, and the rows themselves otherwise.
func valueFromRows(r ExecutionResult, hint FormatHint) any {
	if len(r.Rows) == 0 {
		return nil
	}
	switch hint.Kind {
	case FormatNumber, FormatString, FormatBoolean:
		if len(r.Columns) > 0 {
			return r.Rows[0][r.Columns[0]]
		}
	case FormatListOfString:
		out := make([]any, 0, len(r.Rows))
		for _, row := range r.Rows {
			if len(r.Columns) > 0 {
				out = append(out, row[r.Columns[0]])
			}
		}
		return out
	case FormatObject:
		return r.Rows[0]
	case FormatAny:
		if len(r.Rows) == 1 && len(r.Columns) == 1 {
			return r.Rows[0][r.Columns[0]]
		}
	}
	return r.Rows
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
