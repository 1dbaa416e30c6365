package corpus

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/malbeclabs/copilot/pkg/agent"
)

// TFIDFIndex ranks chunks by cosine similarity of max-normalized TF-IDF
// vectors. It is immutable after construction and safe for concurrent use.
type TFIDFIndex struct {
	chunks  []Chunk
	idf     map[string]float64
	vectors []vector
	norms   []float64
}

type term struct {
	token  string
	weight float64
}

// vector holds weights sorted by token so sums run in a fixed order.
type vector []term

func NewTFIDFIndex(chunks []Chunk) *TFIDFIndex {
	tokens := make([][]string, len(chunks))
	df := make(map[string]int)
	for i, c := range chunks {
		tokens[i] = tokenize(c.Text)
		seen := make(map[string]bool)
		for _, t := range tokens[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	n := float64(len(chunks))
	idf := make(map[string]float64, len(df))
	for t, f := range df {
		idf[t] = math.Log(n / float64(1+f))
	}

	idx := &TFIDFIndex{
		chunks:  chunks,
		idf:     idf,
		vectors: make([]vector, len(chunks)),
		norms:   make([]float64, len(chunks)),
	}
	for i := range chunks {
		idx.vectors[i] = idx.vector(tokens[i])
		idx.norms[i] = norm(idx.vectors[i])
	}
	return idx
}

// Search returns up to k chunks with a positive score, most relevant first.
// Ties keep corpus order.
func (x *TFIDFIndex) Search(ctx context.Context, query string, k int) ([]agent.RetrievedChunk, error) {
	q := x.vector(tokenize(query))
	qn := norm(q)
	if qn == 0 || k <= 0 {
		return nil, nil
	}

	type scored struct {
		i     int
		score float64
	}
	var hits []scored
	for i, v := range x.vectors {
		if x.norms[i] == 0 {
			continue
		}
		if s := dot(q, v) / (qn * x.norms[i]); s > 0 {
			hits = append(hits, scored{i: i, score: s})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]agent.RetrievedChunk, len(hits))
	for j, h := range hits {
		c := x.chunks[h.i]
		out[j] = agent.RetrievedChunk{DocID: c.DocID, Index: c.Index, Text: c.Text, Score: h.score}
	}
	return out, nil
}

func (x *TFIDFIndex) vector(tokens []string) vector {
	tf := make(map[string]int)
	maxTF := 0
	for _, t := range tokens {
		if _, ok := x.idf[t]; !ok {
			continue
		}
		tf[t]++
		if tf[t] > maxTF {
			maxTF = tf[t]
		}
	}
	v := make(vector, 0, len(tf))
	for t, count := range tf {
		v = append(v, term{token: t, weight: float64(count) / float64(maxTF) * x.idf[t]})
	}
	sort.Slice(v, func(i, j int) bool { return v[i].token < v[j].token })
	return v
}

func norm(v vector) float64 {
	var sum float64
	for _, t := range v {
		sum += t.weight * t.weight
	}
	return math.Sqrt(sum)
}

// dot merges two token-sorted vectors.
func dot(a, b vector) float64 {
	var sum float64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i].token < b[j].token:
			i++
		case a[i].token > b[j].token:
			j++
		default:
			sum += a[i].weight * b[j].weight
			i++
			j++
		}
	}
	return sum
}

// tokenize lowercases text, treats anything but letters, digits and
// underscores as a separator, and keeps tokens longer than two characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
