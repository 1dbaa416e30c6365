package agent

import (
	"time"
)

// Route is the evidence-source mode chosen for a question.
type Route string

const (
	RouteRAG    Route = "rag"
	RouteSQL    Route = "sql"
	RouteHybrid Route = "hybrid"
)

// Valid reports whether r is one of the three known routes.
func (r Route) Valid() bool {
	switch r {
	case RouteRAG, RouteSQL, RouteHybrid:
		return true
	}
	return false
}

// UsesRetrieval reports whether the route runs the retriever.
func (r Route) UsesRetrieval() bool {
	return r == RouteRAG || r == RouteHybrid
}

// UsesSQL reports whether the route enters the SQL pipeline.
func (r Route) UsesSQL() bool {
	return r == RouteSQL || r == RouteHybrid
}

// Question is a single natural-language question to answer.
type Question struct {
	ID         string
	Text       string
	FormatHint FormatHint
}

// ConstraintKind names what a constraint restricts.
type ConstraintKind string

const (
	ConstraintDateRange ConstraintKind = "date-range"
	ConstraintCategory  ConstraintKind = "category"
	ConstraintKPI       ConstraintKind = "kpi"
	ConstraintThreshold ConstraintKind = "numeric-threshold"
)

// Constraint is a structured hint extracted from the question or retrieved text.
type Constraint struct {
	Kind  ConstraintKind `json:"kind"`
	Value string         `json:"value"`

	// Date ranges.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// Numeric thresholds. Op is one of >, >=, <, <=, = or top.
	Op     string  `json:"op,omitempty"`
	Number float64 `json:"number,omitempty"`

	// Detail carries supporting text such as a KPI definition line.
	Detail string `json:"detail,omitempty"`
	// Source is "question" or the chunk id the constraint was found in.
	Source string `json:"source"`
}

// RetrievedChunk is a document chunk returned by corpus search.
type RetrievedChunk struct {
	DocID string  `json:"doc_id"`
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// ID returns the chunk's citation identifier.
func (c RetrievedChunk) ID() string {
	return ChunkCitation(c.DocID, c.Index)
}

// Column describes a single table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row is a single result row keyed by column name.
type Row map[string]any

// ExecutionError is the structured error branch of an execution result.
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ExecutionResult is either a row set or a structured error.
type ExecutionResult struct {
	Columns []string        `json:"columns,omitempty"`
	Rows    []Row           `json:"rows,omitempty"`
	Error   *ExecutionError `json:"error,omitempty"`
}

// Succeeded reports whether the execution produced a row set. An empty row
// set is a success.
func (r ExecutionResult) Succeeded() bool {
	return r.Error == nil
}

// Rejected reports whether the statement was refused before it ran.
func (r ExecutionResult) Rejected() bool {
	return r.Error != nil && r.Error.Kind == ErrorKindWriteNotAllowed
}

// SQLAttempt is one generated candidate statement and the outcome of running it.
type SQLAttempt struct {
	Index       int             `json:"index"`
	SQL         string          `json:"sql"`
	PriorError  string          `json:"prior_error,omitempty"`
	Confidence  float64         `json:"confidence"`
	Explanation string          `json:"explanation,omitempty"`
	Executed    bool            `json:"executed"`
	Result      ExecutionResult `json:"result"`
}

// Answer is the final typed, cited answer for a question.
type Answer struct {
	Value       any      `json:"final_answer"`
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	SQL         string   `json:"sql"`
	Citations   []string `json:"citations"`
}

// RouteSource records whether the route came from the model or the rule-based fallback.
type RouteSource string

const (
	RouteSourceModel    RouteSource = "model"
	RouteSourceFallback RouteSource = "fallback"
)

// StageTiming is the wall-clock duration of one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Trace is the audit record of how a question was answered.
type Trace struct {
	Route       Route            `json:"route"`
	RouteSource RouteSource      `json:"route_source"`
	Constraints []Constraint     `json:"constraints"`
	Chunks      []RetrievedChunk `json:"chunks"`
	Attempts    []SQLAttempt     `json:"attempts"`
	RepairState RepairState      `json:"repair_state,omitempty"`
	Errors      []ErrorKind      `json:"errors"`
	Stages      []StageTiming    `json:"stages"`
}

// Result is the outcome of answering one question.
type Result struct {
	QuestionID string `json:"id"`
	Answer     Answer `json:"answer"`
	Trace      Trace  `json:"trace"`
}

// Degraded reports whether the answer fell below the reliable threshold.
func (r Result) Degraded() bool {
	return r.Answer.Confidence < ReliableThreshold
}
