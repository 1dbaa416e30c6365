package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopilot_Agent_LoadPrompts(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)

	for name, prompt := range map[string]string{"route": p.Route, "generate": p.Generate, "synthesize": p.Synthesize} {
		assert.Contains(t, prompt, "## Response JSON Schema", name)
		assert.True(t, strings.HasSuffix(prompt, "```"), name)
	}
	assert.Contains(t, p.Route, `"hybrid"`)
	assert.Contains(t, p.Generate, `"sql"`)
	assert.Contains(t, p.Synthesize, `"final_answer"`)
}
