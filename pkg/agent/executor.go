package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Executor runs candidate statements read-only and captures the outcome.
type Executor struct {
	log     *slog.Logger
	engine  QueryEngine
	timeout time.Duration
}

func NewExecutor(log *slog.Logger, engine QueryEngine, timeout time.Duration) *Executor {
	return &Executor{log: log, engine: engine, timeout: timeout}
}

// Execute runs sql and never returns an error: failures are captured in the
// result with the engine's message verbatim.
func (e *Executor) Execute(ctx context.Context, sql string) (result ExecutionResult) {
	if reason := rejectMutation(sql); reason != "" {
		return ExecutionResult{Error: &ExecutionError{Kind: ErrorKindWriteNotAllowed, Message: reason}}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = ExecutionResult{Error: &ExecutionError{
				Kind:    ErrorKindExecutionRuntime,
				Message: fmt.Sprintf("query engine panic: %v", r),
			}}
		}
	}()

	columns, rows, err := e.engine.RunQuery(ctx, sql)
	if err != nil {
		kind := ClassifyExecutionError(err.Error())
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			kind = ErrorKindExecutionTimeout
		}
		if e.log != nil {
			e.log.Debug("agent: query failed", "kind", kind, "error", err)
		}
		return ExecutionResult{Error: &ExecutionError{Kind: kind, Message: err.Error()}}
	}
	if rows == nil {
		rows = []Row{}
	}
	return ExecutionResult{Columns: columns, Rows: rows}
}

var (
	schemaErrorMarkers = []string{
		"no such table", "no such column", "does not exist", "catalog error", "binder error",
		"unknown column", "unknown table", "unknown identifier", "unknown_identifier", "unknown_table",
		"missing columns", "ambiguous column", "not found in from clause", "undefined column",
		"undefined table", "has no column",
	}
	syntaxErrorMarkers = []string{
		"syntax error", "parser error", "syntax_error", "incomplete input", "unrecognized token",
		"parse error", "unterminated",
	}
)

// ClassifyExecutionError maps an engine error message onto an execution
// error kind. Unrecognized messages are runtime errors.
func ClassifyExecutionError(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, m := range syntaxErrorMarkers {
		if strings.Contains(lower, m) {
			return ErrorKindExecutionSyntax
		}
	}
	for _, m := range schemaErrorMarkers {
		if strings.Contains(lower, m) {
			return ErrorKindExecutionSchema
		}
	}
	return ErrorKindExecutionRuntime
}

var readOnlyLeadingKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "SHOW": true,
	"DESCRIBE": true, "DESC": true, "EXPLAIN": true, "TABLE": true,
}

var mutatingKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true, "REPLACE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "ATTACH": true, "DETACH": true, "COPY": true,
	"VACUUM": true, "REINDEX": true, "PRAGMA": true, "SET": true, "CALL": true,
	"INSTALL": true, "LOAD": true, "EXPORT": true, "IMPORT": true, "OPTIMIZE": true, "SYSTEM": true,
}

// rejectMutation returns a non-empty reason when sql is not a single
// read-only statement.
func rejectMutation(sql string) string {
	stripped := strings.TrimSpace(stripSQLLiterals(sql))
	stripped = strings.TrimSpace(strings.TrimRight(stripped, "; \t\n"))
	if stripped == "" {
		return "empty statement"
	}
	if strings.Contains(stripped, ";") {
		return "multiple statements are not allowed; only a single read-only query may be run"
	}

	words := sqlBareIdent.FindAllString(stripQuotedIdentifiers(stripped), -1)
	if len(words) == 0 {
		return "statement has no keyword"
	}
	first := strings.ToUpper(words[0])
	if !readOnlyLeadingKeywords[first] {
		return fmt.Sprintf("%s statements are not allowed; only read-only queries may be run", first)
	}
	for _, w := range words[1:] {
		upper := strings.ToUpper(w)
		if upper == "SET" || upper == "REPLACE" || upper == "LOAD" || upper == "SYSTEM" || upper == "TABLE" {
			// Common in read-only queries as column names or function calls.
			continue
		}
		if mutatingKeywords[upper] {
			return fmt.Sprintf("statement contains %s; only read-only queries may be run", upper)
		}
	}
	if first == "EXPLAIN" && strings.Contains(strings.ToUpper(stripped), "ANALYZE") {
		return "EXPLAIN ANALYZE executes the statement and is not allowed"
	}
	return ""
}

func stripQuotedIdentifiers(sql string) string {
	return sqlQuotedIdent.ReplaceAllString(sql, " ")
}
