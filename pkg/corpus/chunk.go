// Package corpus loads the document corpus, splits it into chunks and builds
// the search indexes the agent retrieves from.
package corpus

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const minParagraphLen = 10

// Document is one corpus file. ID is the file name without extension.
type Document struct {
	ID   string
	Text string
}

// Chunk is a retrievable paragraph with a stable (document, index) identity.
type Chunk struct {
	DocID string
	Index int
	Text  string
}

func (c Chunk) ID() string {
	return agent.ChunkCitation(c.DocID, c.Index)
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs splits a document on blank lines. Paragraphs shorter than
// 10 characters are dropped and indexes count only the kept paragraphs.
func SplitParagraphs(doc Document) []Chunk {
	var out []Chunk
	for _, para := range paragraphBreak.Split(doc.Text, -1) {
		para = strings.TrimSpace(para)
		if utf8.RuneCountInString(para) < minParagraphLen {
			continue
		}
		out = append(out, Chunk{DocID: doc.ID, Index: len(out), Text: para})
	}
	return out
}

// ChunkAll splits every document, preserving document order.
func ChunkAll(docs []Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		out = append(out, SplitParagraphs(d)...)
	}
	return out
}

// DocumentID returns the stem of a file name.
func DocumentID(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}
