package agent

import (
	"strings"
)

// extractJSON finds a JSON object in a model response that may be wrapped in
// markdown fences or surrounded by prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if body, ok := fencedBlock(response, "```json"); ok {
		return body
	}
	if body, ok := fencedBlock(response, "```"); ok && strings.HasPrefix(body, "{") {
		return body
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

// fencedBlock returns the trimmed body of the first block opened by fence.
func fencedBlock(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start == -1 {
		return "", false
	}
	start += len(fence)
	end := strings.Index(s[start:], "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(s[start : start+end]), true
}

// extractJSONObject returns the balanced object starting at start, skipping
// braces inside strings. Unbalanced input yields "".
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractSQLFromCodeBlocks finds SQL in a ```sql block, or in a generic
// block whose body looks like SQL.
func extractSQLFromCodeBlocks(response string) string {
	if body, ok := fencedBlock(response, "```sql"); ok {
		return cleanSQL(body)
	}
	if body, ok := fencedBlock(response, "```SQL"); ok {
		return cleanSQL(body)
	}
	if body, ok := fencedBlock(response, "```"); ok && looksLikeSQL(body) {
		return cleanSQL(body)
	}
	return ""
}

// looksLikeSQL checks whether text starts with a statement keyword.
func looksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimLeft(strings.TrimSpace(text), "("))
	for _, kw := range []string{"SELECT", "WITH", "VALUES", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// cleanSQL strips fences, whitespace and trailing semicolons.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimPrefix(sql, "```sql")
	sql = strings.TrimPrefix(sql, "```")
	sql = strings.TrimSuffix(sql, "```")
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
