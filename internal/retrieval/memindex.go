package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
)

// MemIndex is an in-process index over a fixed chunk set. It ranks by cosine
// similarity of term-frequency vectors, which needs no embedding model and
// keeps the engine functional when neither a database nor an embedder is
// configured.
type MemIndex struct {
	chunks  []Chunk
	vectors []map[string]float64
	norms   []float64
}

// NewMemIndex builds an index over the given chunks. Pass SeedCorpus() for
// the built-in guideline excerpts.
func NewMemIndex(chunks []Chunk) *MemIndex {
	idx := &MemIndex{chunks: chunks}
	for _, c := range chunks {
		v := termVector(c.Text + " " + c.Source)
		idx.vectors = append(idx.vectors, v)
		idx.norms = append(idx.norms, norm(v))
	}
	return idx
}

// Search returns the topK chunks most similar to the query, highest first.
func (idx *MemIndex) Search(_ context.Context, query string, topK int) ([]Match, error) {
	qv := termVector(query)
	qn := norm(qv)
	if qn == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(idx.chunks))
	for i, c := range idx.chunks {
		if idx.norms[i] == 0 {
			continue
		}
		sim := dot(qv, idx.vectors[i]) / (qn * idx.norms[i])
		if sim <= 0 {
			continue
		}
		matches = append(matches, Match{Chunk: c, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func termVector(text string) map[string]float64 {
	v := make(map[string]float64)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '+')
	}) {
		if len(tok) < 2 {
			continue
		}
		v[tok]++
	}
	return v
}

func dot(a, b map[string]float64) float64 {
	// Iterate the smaller map.
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for k, av := range a {
		sum += av * b[k]
	}
	return sum
}

func norm(v map[string]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
