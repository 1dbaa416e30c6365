package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Coercion grades how faithfully a value was converted to a format hint.
type Coercion int

const (
	// CoercionExact means the value already had the required shape.
	CoercionExact Coercion = iota
	// CoercionLossy means the value was converted but information may have been lost.
	CoercionLossy
	// CoercionMismatch means no conforming value could be derived.
	CoercionMismatch
)

func (c Coercion) String() string {
	switch c {
	case CoercionExact:
		return "exact"
	case CoercionLossy:
		return "lossy"
	}
	return "mismatch"
}

func worse(a, b Coercion) Coercion {
	if b > a {
		return b
	}
	return a
}

var numeralPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?|-?\.\d+`)

// Coerce converts v to the shape required by hint. It always returns a value
// of the hinted type, falling back to the hint's zero value on mismatch.
func Coerce(v any, hint FormatHint) (any, Coercion) {
	switch hint.Kind {
	case FormatNumber:
		return coerceNumber(v, hint)
	case FormatString:
		return coerceString(v)
	case FormatBoolean:
		return coerceBool(v)
	case FormatListOfString:
		return coerceStringList(v)
	case FormatListOfObject:
		return coerceObjectList(v, hint.Fields)
	case FormatObject:
		return coerceObject(v, hint.Fields)
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), CoercionExact
	}
	if v == nil {
		return "", CoercionExact
	}
	return normalizeValue(v), CoercionExact
}

func coerceNumber(v any, hint FormatHint) (any, Coercion) {
	f, c := toNumber(v)
	if c == CoercionMismatch {
		return hint.ZeroValue(), CoercionMismatch
	}
	if hint.Integer {
		r := math.Round(f)
		if r != f {
			c = worse(c, CoercionLossy)
		}
		return int64(r), c
	}
	if hint.Decimals > 0 {
		p := math.Pow(10, float64(hint.Decimals))
		f = math.Round(f*p) / p
	}
	return f, c
}

func toNumber(v any) (float64, Coercion) {
	if f, ok := numericValue(v); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, CoercionMismatch
		}
		return f, CoercionExact
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		clean := strings.NewReplacer(",", "", "$", "", "%", "").Replace(s)
		if f, err := strconv.ParseFloat(strings.TrimSpace(clean), 64); err == nil {
			return f, CoercionExact
		}
		if m := numeralPattern.FindString(s); m != "" {
			if f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
				return f, CoercionLossy
			}
		}
	case []any:
		if len(x) == 1 {
			f, c := toNumber(x[0])
			return f, worse(c, CoercionLossy)
		}
	case map[string]any:
		if len(x) == 1 {
			for _, inner := range x {
				f, c := toNumber(inner)
				return f, worse(c, CoercionLossy)
			}
		}
	case Row:
		return toNumber(map[string]any(x))
	}
	return 0, CoercionMismatch
}

// numericValue extracts a float from any Go numeric type, json.Number or a
// driver decimal that exposes Float64.
func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case interface{ Float64() float64 }:
		return x.Float64(), true
	}
	return 0, false
}

func coerceString(v any) (any, Coercion) {
	switch x := v.(type) {
	case nil:
		return "", CoercionMismatch
	case string:
		return strings.TrimSpace(x), CoercionExact
	case bool:
		return strconv.FormatBool(x), CoercionExact
	case time.Time:
		return x.Format(time.RFC3339), CoercionExact
	case []any:
		if len(x) == 1 {
			s, c := coerceString(x[0])
			return s, worse(c, CoercionLossy)
		}
	case map[string]any:
		if len(x) == 1 {
			for _, inner := range x {
				s, c := coerceString(inner)
				return s, worse(c, CoercionLossy)
			}
		}
	case Row:
		return coerceString(map[string]any(x))
	}
	if f, ok := numericValue(v); ok {
		return formatNumber(f), CoercionExact
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), CoercionLossy
	}
	return string(b), CoercionLossy
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func coerceBool(v any) (any, Coercion) {
	switch x := v.(type) {
	case bool:
		return x, CoercionExact
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, CoercionExact
		case "false":
			return false, CoercionExact
		case "yes", "y", "1":
			return true, CoercionLossy
		case "no", "n", "0":
			return false, CoercionLossy
		}
	case []any:
		if len(x) == 1 {
			b, c := coerceBool(x[0])
			return b, worse(c, CoercionLossy)
		}
	case map[string]any:
		if len(x) == 1 {
			for _, inner := range x {
				b, c := coerceBool(inner)
				return b, worse(c, CoercionLossy)
			}
		}
	case Row:
		return coerceBool(map[string]any(x))
	}
	if f, ok := numericValue(v); ok {
		switch f {
		case 0:
			return false, CoercionLossy
		case 1:
			return true, CoercionLossy
		}
	}
	return false, CoercionMismatch
}

func coerceStringList(v any) (any, Coercion) {
	switch x := v.(type) {
	case nil:
		return []string{}, CoercionLossy
	case []string:
		out := make([]string, len(x))
		for i, s := range x {
			out[i] = strings.TrimSpace(s)
		}
		return out, CoercionExact
	case []any:
		out := make([]string, 0, len(x))
		c := CoercionExact
		for _, item := range x {
			s, ic := listItemString(item)
			out = append(out, s)
			c = worse(c, ic)
		}
		return out, c
	case []Row:
		out := make([]string, 0, len(x))
		c := CoercionExact
		for _, row := range x {
			s, ic := listItemString(map[string]any(row))
			out = append(out, s)
			c = worse(c, ic)
		}
		return out, c
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "[") {
			var parsed []any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				out, c := coerceStringList(parsed)
				return out, worse(c, CoercionLossy)
			}
		}
		out := []string{}
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
			part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "- "))
			if part != "" {
				out = append(out, part)
			}
		}
		return out, CoercionLossy
	}
	s, c := coerceString(v)
	if c == CoercionMismatch {
		return []string{}, CoercionMismatch
	}
	return []string{s.(string)}, CoercionLossy
}

// listItemString converts a list element to a string. Single-key objects,
// like rows of a one-column result, collapse to their value.
func listItemString(item any) (string, Coercion) {
	switch x := item.(type) {
	case map[string]any:
		if len(x) == 1 {
			for _, inner := range x {
				s, c := coerceString(inner)
				return s.(string), worse(c, CoercionLossy)
			}
		}
		s, _ := coerceString(x)
		return s.(string), CoercionLossy
	}
	s, c := coerceString(item)
	return s.(string), c
}

func coerceObjectList(v any, fields []FieldSpec) (any, Coercion) {
	switch x := v.(type) {
	case nil:
		return []map[string]any{}, CoercionLossy
	case []any:
		out := make([]map[string]any, 0, len(x))
		c := CoercionExact
		for _, item := range x {
			m, ok := asMap(item)
			if !ok {
				return []map[string]any{}, CoercionMismatch
			}
			obj, oc := shapeObject(m, fields)
			out = append(out, obj)
			c = worse(c, oc)
		}
		return out, c
	case []map[string]any:
		items := make([]any, len(x))
		for i := range x {
			items[i] = x[i]
		}
		return coerceObjectList(items, fields)
	case []Row:
		items := make([]any, len(x))
		for i := range x {
			items[i] = map[string]any(x[i])
		}
		return coerceObjectList(items, fields)
	case string:
		s := strings.TrimSpace(x)
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			if _, isString := parsed.(string); !isString {
				out, c := coerceObjectList(parsed, fields)
				return out, worse(c, CoercionLossy)
			}
		}
		return []map[string]any{}, CoercionMismatch
	}
	if m, ok := asMap(v); ok {
		obj, c := shapeObject(m, fields)
		return []map[string]any{obj}, worse(c, CoercionLossy)
	}
	return []map[string]any{}, CoercionMismatch
}

func coerceObject(v any, fields []FieldSpec) (any, Coercion) {
	if m, ok := asMap(v); ok {
		return shapeObject(m, fields)
	}
	switch x := v.(type) {
	case []any:
		if len(x) == 1 {
			obj, c := coerceObject(x[0], fields)
			return obj, worse(c, CoercionLossy)
		}
	case []Row:
		if len(x) == 1 {
			obj, c := shapeObject(x[0], fields)
			return obj, worse(c, CoercionLossy)
		}
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(x)), &parsed); err == nil {
			if _, isString := parsed.(string); !isString {
				obj, c := coerceObject(parsed, fields)
				return obj, worse(c, CoercionLossy)
			}
		}
	}
	return map[string]any{}, CoercionMismatch
}

func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case Row:
		return map[string]any(x), true
	}
	return nil, false
}

// shapeObject applies typed field specs to m. Without specs the object is
// returned with normalized values. With specs, only declared fields are kept;
// a missing field is a mismatch.
func shapeObject(m map[string]any, fields []FieldSpec) (map[string]any, Coercion) {
	if len(fields) == 0 {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = normalizeValue(v)
		}
		return out, CoercionExact
	}

	out := make(map[string]any, len(fields))
	c := CoercionExact
	for _, f := range fields {
		raw, ok := lookupField(m, f.Name)
		hint := hintForField(f.Type)
		if !ok {
			out[f.Name] = hint.ZeroValue()
			c = CoercionMismatch
			continue
		}
		val, fc := Coerce(raw, hint)
		out[f.Name] = val
		c = worse(c, fc)
	}
	if len(m) > len(fields) && c == CoercionExact {
		c = CoercionLossy
	}
	return out, c
}

func lookupField(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	norm := normalizeFieldName(name)
	for k, v := range m {
		if normalizeFieldName(k) == norm {
			return v, true
		}
	}
	return nil, false
}

func normalizeFieldName(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(s)
}

// normalizeValue converts driver values to JSON-friendly values.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case Row:
		return map[string]any(x)
	case interface{ Float64() float64 }:
		return x.Float64()
	}
	return v
}
