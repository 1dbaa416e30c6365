package batch

import (
	"github.com/malbeclabs/copilot/pkg/agent"
)

// Record is the output line for one question.
type Record struct {
	ID          string   `json:"id"`
	FinalAnswer any      `json:"final_answer"`
	SQL         string   `json:"sql"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations"`
}

func NewRecord(res agent.Result) Record {
	citations := res.Answer.Citations
	if citations == nil {
		citations = []string{}
	}
	return Record{
		ID:          res.QuestionID,
		FinalAnswer: res.Answer.Value,
		SQL:         res.Answer.SQL,
		Confidence:  res.Answer.Confidence,
		Explanation: res.Answer.Explanation,
		Citations:   citations,
	}
}

// TraceRecord is the audit line for one question.
type TraceRecord struct {
	RunID string `json:"run_id"`
	ID    string `json:"id"`
	agent.Trace
}

func NewTraceRecord(runID string, res agent.Result) TraceRecord {
	return TraceRecord{RunID: runID, ID: res.QuestionID, Trace: res.Trace}
}
