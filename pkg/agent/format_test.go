package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopilot_Agent_ParseFormatHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want FormatHint
	}{
		{"", FormatHint{}},
		{"number", FormatHint{Kind: FormatNumber, Raw: "number"}},
		{"int", FormatHint{Kind: FormatNumber, Integer: true, Raw: "int"}},
		{"float", FormatHint{Kind: FormatNumber, Decimals: 2, Raw: "float"}},
		{"str", FormatHint{Kind: FormatString, Raw: "str"}},
		{"Boolean", FormatHint{Kind: FormatBoolean, Raw: "Boolean"}},
		{"list[str]", FormatHint{Kind: FormatListOfString, Raw: "list[str]"}},
		{"list-of-object", FormatHint{Kind: FormatListOfObject, Raw: "list-of-object"}},
		{
			"{category:str, quantity:int}",
			FormatHint{Kind: FormatObject, Raw: "{category:str, quantity:int}", Fields: []FieldSpec{
				{Name: "category", Type: FieldStr}, {Name: "quantity", Type: FieldInt},
			}},
		},
		{
			"list[{product:str, revenue:float}]",
			FormatHint{Kind: FormatListOfObject, Raw: "list[{product:str, revenue:float}]", Fields: []FieldSpec{
				{Name: "product", Type: FieldStr}, {Name: "revenue", Type: FieldFloat},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormatHint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		got, err := ParseFormatHint("matrix")
		require.Error(t, err)
		assert.False(t, got.Present())
		assert.Equal(t, "matrix", got.Raw)
	})

	t.Run("duplicate field", func(t *testing.T) {
		t.Parallel()
		_, err := ParseFormatHint("{a:int, a:str}")
		require.Error(t, err)
	})
}

func TestCopilot_Agent_FormatHint_ZeroValueMarshalsToHintedType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"int":            `0`,
		"float":          `0`,
		"str":            `""`,
		"bool":           `false`,
		"list[str]":      `[]`,
		"list-of-object": `[]`,
		"{a:int}":        `{}`,
		"":               `""`,
	}
	for hint, want := range tests {
		h, err := ParseFormatHint(hint)
		require.NoError(t, err)
		b, err := json.Marshal(h.ZeroValue())
		require.NoError(t, err)
		assert.JSONEq(t, want, string(b), hint)
	}
}
