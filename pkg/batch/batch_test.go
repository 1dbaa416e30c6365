package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/copilot/pkg/agent"
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

const questionsJSONL = `{"id": "rag_policy", "question": "What is the return window for unopened Beverages?", "format_hint": "int"}

{"id": "sql_top3", "text": "Top 3 products by revenue", "format_hint": "list[{product:str, revenue:float}]"}
{"id": "hybrid_aov", "question": "AOV for Beverages in 1997?", "format_hint": "float"}
{"id": "odd_hint", "question": "Anything?", "format_hint": "tuple"}
`

func TestCopilot_Batch_ReadQuestions(t *testing.T) {
	t.Parallel()

	t.Run("parses hints and text aliases", func(t *testing.T) {
		t.Parallel()
		qs, err := ReadQuestions(logger, strings.NewReader(questionsJSONL))
		require.NoError(t, err)
		require.Len(t, qs, 4)

		assert.Equal(t, "rag_policy", qs[0].ID)
		assert.Equal(t, agent.FormatNumber, qs[0].FormatHint.Kind)
		assert.True(t, qs[0].FormatHint.Integer)

		assert.Equal(t, "Top 3 products by revenue", qs[1].Text)
		assert.Equal(t, agent.FormatListOfObject, qs[1].FormatHint.Kind)
		require.Len(t, qs[1].FormatHint.Fields, 2)

		assert.Equal(t, 2, qs[2].FormatHint.Decimals)

		assert.False(t, qs[3].FormatHint.Present())
		assert.Equal(t, "tuple", qs[3].FormatHint.Raw)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		_, err := ReadQuestions(logger, strings.NewReader(`{"id":"a","question":"one?"}
{"id":"a","question":"two?"}`))
		require.ErrorIs(t, err, ErrDuplicateQuestionID)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()
		_, err := ReadQuestions(logger, strings.NewReader(`{"question":"one?"}`))
		require.ErrorIs(t, err, ErrMissingQuestionID)
	})

	t.Run("missing text", func(t *testing.T) {
		t.Parallel()
		_, err := ReadQuestions(logger, strings.NewReader(`{"id":"a"}`))
		require.ErrorIs(t, err, ErrMissingQuestionText)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		_, err := ReadQuestions(logger, strings.NewReader(`{"id":`))
		require.ErrorContains(t, err, "line 1")
	})
}

func TestCopilot_Batch_GzipRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "questions.jsonl.gz")
	f, err := os.Create(in)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(questionsJSONL))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	qs, err := LoadQuestions(logger, in)
	require.NoError(t, err)
	assert.Len(t, qs, 4)

	out := filepath.Join(dir, "outputs.jsonl.gz")
	sink, err := CreateSink(out)
	require.NoError(t, err)
	require.NoError(t, sink.Write(Record{ID: "a", FinalAnswer: 14, Citations: []string{}}))
	require.NoError(t, sink.Close())

	rf, err := os.Open(out)
	require.NoError(t, err)
	defer rf.Close()
	zr, err := gzip.NewReader(rf)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","final_answer":14,"sql":"","confidence":0,"explanation":"","citations":[]}`, string(data))
}

type fakeAnswerer struct {
	fn func(ctx context.Context, q agent.Question) agent.Result
}

func (f *fakeAnswerer) Answer(ctx context.Context, q agent.Question) agent.Result {
	return f.fn(ctx, q)
}

func answered(q agent.Question, confidence float64) agent.Result {
	return agent.Result{
		QuestionID: q.ID,
		Answer:     agent.Answer{Value: 1, Explanation: "ok", Confidence: confidence, Citations: []string{"Orders"}},
		Trace:      agent.Trace{Route: agent.RouteSQL},
	}
}

func readRecords(t *testing.T, data []byte) []Record {
	t.Helper()
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestCopilot_Batch_Runner(t *testing.T) {
	t.Parallel()

	questions := []agent.Question{
		{ID: "q1", Text: "one"},
		{ID: "q2", Text: "two"},
		{ID: "q3", Text: "three", FormatHint: agent.FormatHint{Kind: agent.FormatNumber, Integer: true}},
		{ID: "q4", Text: "four"},
		{ID: "q5", Text: "five"},
	}

	t.Run("one record per question even when one panics", func(t *testing.T) {
		t.Parallel()
		var out, trace bytes.Buffer
		r, err := NewRunner(RunnerConfig{
			Logger: logger,
			Answerer: &fakeAnswerer{fn: func(_ context.Context, q agent.Question) agent.Result {
				switch q.ID {
				case "q3":
					panic("boom")
				case "q4":
					return answered(q, 0.05)
				}
				return answered(q, 0.8)
			}},
			Output:  NewSink(&out),
			Trace:   NewSink(&trace),
			Workers: 3,
			Clock:   clockwork.NewFakeClock(),
		})
		require.NoError(t, err)

		summary, err := r.Run(context.Background(), questions)
		require.NoError(t, err)
		assert.Equal(t, 5, summary.Questions)
		assert.Equal(t, 2, summary.Degraded)
		assert.NotEmpty(t, summary.RunID)

		records := readRecords(t, out.Bytes())
		require.Len(t, records, 5)
		ids := map[string]Record{}
		for _, rec := range records {
			_, dup := ids[rec.ID]
			assert.False(t, dup, rec.ID)
			ids[rec.ID] = rec
		}
		for _, q := range questions {
			assert.Contains(t, ids, q.ID)
		}
		assert.Equal(t, float64(0), ids["q3"].Confidence)
		assert.Contains(t, ids["q3"].Explanation, "boom")
		assert.Equal(t, float64(0), ids["q3"].FinalAnswer)
		assert.NotNil(t, ids["q3"].Citations)

		assert.Equal(t, 5, strings.Count(trace.String(), `"run_id":"`+summary.RunID+`"`))
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		t.Parallel()
		var mu sync.Mutex
		active, peak := 0, 0
		var out bytes.Buffer
		r, err := NewRunner(RunnerConfig{
			Logger: logger,
			Answerer: &fakeAnswerer{fn: func(_ context.Context, q agent.Question) agent.Result {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return answered(q, 0.9)
			}},
			Output:  NewSink(&out),
			Workers: 2,
		})
		require.NoError(t, err)

		_, err = r.Run(context.Background(), questions)
		require.NoError(t, err)
		assert.LessOrEqual(t, peak, 2)
		assert.Len(t, readRecords(t, out.Bytes()), 5)
	})

	t.Run("sink failure aborts the batch", func(t *testing.T) {
		t.Parallel()
		r, err := NewRunner(RunnerConfig{
			Logger: logger,
			Answerer: &fakeAnswerer{fn: func(_ context.Context, q agent.Question) agent.Result {
				return answered(q, 0.9)
			}},
			Output:  NewSink(failingWriter{}),
			Workers: 1,
		})
		require.NoError(t, err)

		_, err = r.Run(context.Background(), questions)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("validate", func(t *testing.T) {
		t.Parallel()
		_, err := NewRunner(RunnerConfig{Logger: logger, Output: NewSink(io.Discard)})
		require.EqualError(t, err, "answerer is required")
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
