package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopilot_Logger_New(t *testing.T) {
	t.Parallel()

	t.Run("info by default", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Debug("hidden")
		log.Info("agent: answered", "question", "q1", "sql", "")
		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "agent: answered")
		assert.Contains(t, out, "question=q1")
		assert.NotContains(t, out, "sql=")
		assert.NotContains(t, out, "\x1b[", "no color codes outside a terminal")
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		NewWithWriter(&buf, true).Debug("shown")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestCopilot_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("X", 2*3600)
	ts := time.Date(2024, 3, 5, 14, 7, 9, 123_456_789, loc)
	require.Equal(t, "2024-03-05T12:07:09.123Z", formatRFC3339Millis(ts))
}
