package agent

import (
	"errors"
)

var (
	// ErrGenerationFailed is returned when the generator produces no usable SQL.
	ErrGenerationFailed = errors.New("sql generation failed")
	// ErrGenerationTimeout is returned when the generator call exceeds its timeout.
	ErrGenerationTimeout = errors.New("sql generation timed out")
)

// ErrorKind classifies a per-question failure. None of these abort a batch.
type ErrorKind string

const (
	ErrorKindClassificationUnavailable ErrorKind = "classification_unavailable"
	ErrorKindRetrievalEmpty            ErrorKind = "retrieval_empty"
	ErrorKindGenerationTimeout         ErrorKind = "generation_timeout"
	ErrorKindGenerationFailed          ErrorKind = "generation_failed"
	ErrorKindExecutionSyntax           ErrorKind = "execution_syntax_error"
	ErrorKindExecutionSchema           ErrorKind = "execution_schema_error"
	ErrorKindExecutionRuntime          ErrorKind = "execution_runtime_error"
	ErrorKindExecutionTimeout          ErrorKind = "execution_timeout"
	ErrorKindWriteNotAllowed           ErrorKind = "write_not_allowed"
	ErrorKindRepairExhausted           ErrorKind = "repair_exhausted"
	ErrorKindSynthesisTypeMismatch     ErrorKind = "synthesis_type_mismatch"
	ErrorKindSynthesisUnavailable      ErrorKind = "synthesis_unavailable"
	ErrorKindOverallTimeout            ErrorKind = "overall_timeout"
)

// Describe returns a plain-language description used in degraded explanations.
func (k ErrorKind) Describe() string {
	switch k {
	case ErrorKindClassificationUnavailable:
		return "the question classifier was unavailable, so a rule-based route was used"
	case ErrorKindRetrievalEmpty:
		return "no relevant documents were found"
	case ErrorKindGenerationTimeout:
		return "SQL generation timed out"
	case ErrorKindGenerationFailed:
		return "SQL generation failed to produce a query"
	case ErrorKindExecutionSyntax:
		return "the SQL query had a syntax error"
	case ErrorKindExecutionSchema:
		return "the SQL query referenced a table or column that does not exist"
	case ErrorKindExecutionRuntime:
		return "the SQL query failed while running"
	case ErrorKindExecutionTimeout:
		return "the SQL query timed out"
	case ErrorKindWriteNotAllowed:
		return "the SQL query attempted to modify the database and was rejected"
	case ErrorKindRepairExhausted:
		return "the SQL query could not be repaired"
	case ErrorKindSynthesisTypeMismatch:
		return "the answer could not be converted to the requested format"
	case ErrorKindSynthesisUnavailable:
		return "answer synthesis was unavailable, so the answer was derived directly from the evidence"
	case ErrorKindOverallTimeout:
		return "the question exceeded its time limit"
	}
	return string(k)
}

// Retryable reports whether an execution error of this kind may be repaired.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindExecutionSyntax, ErrorKindExecutionSchema, ErrorKindExecutionRuntime,
		ErrorKindExecutionTimeout, ErrorKindWriteNotAllowed:
		return true
	}
	return false
}
