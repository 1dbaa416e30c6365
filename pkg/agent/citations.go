package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ChunkCitation formats a chunk reference as "<doc>::chunk<N>".
func ChunkCitation(docID string, index int) string {
	return fmt.Sprintf("%s::chunk%d", docID, index)
}

var chunkRefPattern = regexp.MustCompile(`^(.+?)::(?:chunk)?(\d+)$`)

// ParseChunkCitation parses "<doc>::chunk<N>" or "<doc>::<N>".
func ParseChunkCitation(s string) (string, int, bool) {
	m := chunkRefPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

var (
	sqlStringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)
	sqlLineComment   = regexp.MustCompile(`--[^\n]*`)
	sqlBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	sqlQuotedIdent   = regexp.MustCompile("\"((?:[^\"]|\"\")+)\"|`([^`]+)`|\\[([^\\]]+)\\]")
	sqlBareIdent     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$]*`)
)

// stripSQLLiterals removes comments and string literals so identifiers can be
// scanned without matching quoted text.
func stripSQLLiterals(sql string) string {
	sql = sqlBlockComment.ReplaceAllString(sql, " ")
	sql = sqlLineComment.ReplaceAllString(sql, " ")
	return sqlStringLiteral.ReplaceAllString(sql, " ")
}

// sqlIdentifiers returns the lowercased set of identifiers in a statement,
// including quoted ones.
func sqlIdentifiers(sql string) map[string]bool {
	sql = stripSQLLiterals(sql)
	idents := make(map[string]bool)
	for _, m := range sqlQuotedIdent.FindAllStringSubmatch(sql, -1) {
		for _, g := range m[1:] {
			if g != "" {
				idents[strings.ToLower(strings.ReplaceAll(g, `""`, `"`))] = true
			}
		}
	}
	bare := sqlQuotedIdent.ReplaceAllString(sql, " ")
	for _, m := range sqlBareIdent.FindAllString(bare, -1) {
		idents[strings.ToLower(m)] = true
	}
	return idents
}

// TablesInSQL returns the known tables referenced by sql, sorted.
func TablesInSQL(sql string, tables []string) []string {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	idents := sqlIdentifiers(sql)
	var out []string
	seen := make(map[string]bool)
	for _, t := range tables {
		key := strings.ToLower(t)
		if idents[key] && !seen[key] {
			seen[key] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// chunkRefInText matches a whole chunk reference. The doc id class is greedy,
// so a match always starts at the beginning of its word.
var chunkRefInText = regexp.MustCompile(`[A-Za-z0-9_.\-]+::(?:chunk)?\d+`)

// chunkRefsIn returns the normalized chunk references named in text.
func chunkRefsIn(text string) []string {
	var out []string
	for _, m := range chunkRefInText.FindAllString(text, -1) {
		if doc, idx, ok := ParseChunkCitation(m); ok {
			out = append(out, ChunkCitation(doc, idx))
		}
	}
	return out
}

// usedChunkIDs returns the ids of retrieved chunks the answer actually drew
// on: those the model declared and those named in the explanation. Anything
// not in the retrieved set is dropped.
func usedChunkIDs(chunks []RetrievedChunk, declared []string, explanation string) []string {
	retrieved := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		retrieved[c.ID()] = true
	}

	used := make(map[string]bool)
	for _, ref := range declared {
		doc, idx, ok := ParseChunkCitation(ref)
		if !ok {
			continue
		}
		id := ChunkCitation(doc, idx)
		if retrieved[id] {
			used[id] = true
		}
	}
	for _, ref := range chunkRefsIn(explanation) {
		if retrieved[ref] {
			used[ref] = true
		}
	}

	out := make([]string, 0, len(used))
	for _, c := range chunks {
		if used[c.ID()] {
			out = append(out, c.ID())
			delete(used, c.ID())
		}
	}
	return out
}

// mergeCitations collapses duplicates while keeping tables before chunks.
func mergeCitations(tables, chunks []string) []string {
	out := make([]string, 0, len(tables)+len(chunks))
	seen := make(map[string]bool)
	for _, group := range [][]string{tables, chunks} {
		for _, c := range group {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
