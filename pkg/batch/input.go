// Package batch runs question files through the agent with a fixed-size
// worker pool and writes one JSON line per question.
package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/malbeclabs/copilot/pkg/agent"
)

var (
	ErrDuplicateQuestionID = errors.New("duplicate question id")
	ErrMissingQuestionID   = errors.New("question id is required")
	ErrMissingQuestionText = errors.New("question text is required")
)

// inputQuestion is one line of a questions file. The text may be given as
// "question" or "text".
type inputQuestion struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	Text       string `json:"text"`
	FormatHint string `json:"format_hint"`
}

// ReadQuestions parses a JSONL questions stream. Blank lines are skipped.
// Unknown format hints are logged and treated as absent.
func ReadQuestions(log *slog.Logger, r io.Reader) ([]agent.Question, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var out []agent.Question
	seen := make(map[string]int)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var in inputQuestion
		if err := json.Unmarshal(line, &in); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNo, err)
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrMissingQuestionID)
		}
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("line %d: %w %q (first seen on line %d)", lineNo, ErrDuplicateQuestionID, id, prev)
		}
		seen[id] = lineNo

		text := strings.TrimSpace(in.Question)
		if text == "" {
			text = strings.TrimSpace(in.Text)
		}
		if text == "" {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrMissingQuestionText)
		}

		hint, err := agent.ParseFormatHint(in.FormatHint)
		if err != nil && log != nil {
			log.Warn("batch: ignoring unrecognized format hint", "question", id, "format_hint", in.FormatHint, "error", err)
		}

		out = append(out, agent.Question{ID: id, Text: text, FormatHint: hint})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return out, nil
}

// LoadQuestions reads a questions file. "-" reads stdin and a .gz suffix
// is decompressed.
func LoadQuestions(log *slog.Logger, path string) ([]agent.Question, error) {
	if path == "-" {
		return ReadQuestions(log, os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open questions: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip questions: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return ReadQuestions(log, r)
}
