package agent

import (
	"fmt"
	"strings"
)

// FormatKind is the required shape of a final answer.
type FormatKind string

const (
	FormatAny          FormatKind = ""
	FormatNumber       FormatKind = "number"
	FormatString       FormatKind = "string"
	FormatBoolean      FormatKind = "boolean"
	FormatListOfString FormatKind = "list-of-string"
	FormatListOfObject FormatKind = "list-of-object"
	FormatObject       FormatKind = "object"
)

// FieldType is the declared type of an object field in a format hint.
type FieldType string

const (
	FieldAny   FieldType = ""
	FieldInt   FieldType = "int"
	FieldFloat FieldType = "float"
	FieldStr   FieldType = "str"
	FieldBool  FieldType = "bool"
)

// FieldSpec is one field of an object-shaped format hint.
type FieldSpec struct {
	Name string
	Type FieldType
}

// FormatHint describes the required type of a final answer.
type FormatHint struct {
	Kind FormatKind
	// Integer rounds numbers to whole values.
	Integer bool
	// Decimals rounds numbers to a fixed number of places when positive.
	Decimals int
	// Fields lists typed fields for object and list-of-object hints.
	Fields []FieldSpec
	// Raw is the hint as written in the input.
	Raw string
}

// Present reports whether the hint constrains the answer type.
func (h FormatHint) Present() bool {
	return h.Kind != FormatAny
}

func (h FormatHint) String() string {
	if h.Raw != "" {
		return h.Raw
	}
	return string(h.Kind)
}

// Describe renders the hint for a prompt.
func (h FormatHint) Describe() string {
	switch h.Kind {
	case FormatNumber:
		switch {
		case h.Integer:
			return "an integer (JSON number, no quotes, no units)"
		case h.Decimals > 0:
			return fmt.Sprintf("a number rounded to %d decimal places (JSON number, no quotes, no units)", h.Decimals)
		}
		return "a number (JSON number, no quotes, no units)"
	case FormatString:
		return "a short string"
	case FormatBoolean:
		return "a boolean (true or false)"
	case FormatListOfString:
		return "a JSON array of strings"
	case FormatListOfObject:
		if len(h.Fields) > 0 {
			return "a JSON array of objects, each with fields " + describeFields(h.Fields)
		}
		return "a JSON array of objects"
	case FormatObject:
		if len(h.Fields) > 0 {
			return "a JSON object with fields " + describeFields(h.Fields)
		}
		return "a JSON object"
	}
	return "any JSON value that best answers the question"
}

func describeFields(fields []FieldSpec) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Type == FieldAny {
			parts = append(parts, f.Name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Name, f.Type))
	}
	return strings.Join(parts, ", ")
}

// ZeroValue returns the typed empty value for the hint.
func (h FormatHint) ZeroValue() any {
	switch h.Kind {
	case FormatNumber:
		if h.Integer {
			return int64(0)
		}
		return float64(0)
	case FormatBoolean:
		return false
	case FormatListOfString:
		return []string{}
	case FormatListOfObject:
		return []map[string]any{}
	case FormatObject:
		return map[string]any{}
	}
	return ""
}

// ParseFormatHint parses a format hint. The empty string yields a hint that
// accepts any answer.
func ParseFormatHint(s string) (FormatHint, error) {
	raw := strings.TrimSpace(s)
	h := FormatHint{Raw: raw}
	lower := strings.ToLower(strings.Join(strings.Fields(raw), ""))

	switch lower {
	case "":
		return h, nil
	case "number", "numeric":
		h.Kind = FormatNumber
	case "int", "integer":
		h.Kind = FormatNumber
		h.Integer = true
	case "float", "decimal", "double":
		h.Kind = FormatNumber
		h.Decimals = 2
	case "string", "str", "text":
		h.Kind = FormatString
	case "boolean", "bool":
		h.Kind = FormatBoolean
	case "list-of-string", "list[str]", "list[string]", "[str]":
		h.Kind = FormatListOfString
	case "list-of-object", "list[object]", "list[dict]", "[object]":
		h.Kind = FormatListOfObject
	case "object", "dict":
		h.Kind = FormatObject
	default:
		switch {
		case strings.HasPrefix(lower, "list[{") && strings.HasSuffix(lower, "}]"):
			inner := strings.TrimSpace(raw)
			inner = inner[strings.Index(inner, "{") : strings.LastIndex(inner, "}")+1]
			fields, err := parseFieldSpecs(inner)
			if err != nil {
				return FormatHint{Raw: raw}, err
			}
			h.Kind = FormatListOfObject
			h.Fields = fields
		case strings.HasPrefix(lower, "{") && strings.HasSuffix(lower, "}"):
			fields, err := parseFieldSpecs(raw)
			if err != nil {
				return FormatHint{Raw: raw}, err
			}
			h.Kind = FormatObject
			h.Fields = fields
		default:
			return FormatHint{Raw: raw}, fmt.Errorf("unknown format hint %q", raw)
		}
	}
	return h, nil
}

// parseFieldSpecs parses "{name:type, other:type}".
func parseFieldSpecs(s string) ([]FieldSpec, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	var fields []FieldSpec
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, _ := strings.Cut(part, ":")
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if name == "" {
			return nil, fmt.Errorf("empty field name in format hint %q", s)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate field %q in format hint", name)
		}
		seen[name] = true
		fields = append(fields, FieldSpec{Name: name, Type: parseFieldType(typ)})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("format hint %q declares no fields", s)
	}
	return fields, nil
}

func parseFieldType(s string) FieldType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return FieldInt
	case "float", "number", "decimal", "double":
		return FieldFloat
	case "str", "string", "text":
		return FieldStr
	case "bool", "boolean":
		return FieldBool
	}
	return FieldAny
}

// hintForField returns the scalar hint used to coerce an object field.
func hintForField(t FieldType) FormatHint {
	switch t {
	case FieldInt:
		return FormatHint{Kind: FormatNumber, Integer: true}
	case FieldFloat:
		return FormatHint{Kind: FormatNumber, Decimals: 2}
	case FieldStr:
		return FormatHint{Kind: FormatString}
	case FieldBool:
		return FormatHint{Kind: FormatBoolean}
	}
	return FormatHint{}
}
