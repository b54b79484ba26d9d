// Package retrieval provides similarity search over the clinical guideline
// corpus. Two Index implementations exist: a process-local index over the
// built-in seed corpus, and a pgvector-backed index for an ingested corpus.
package retrieval

import "context"

// Chunk is one guideline passage with its citation source.
type Chunk struct {
	Text   string `json:"chunk_text"`
	Source string `json:"source"`
}

// Match is a retrieved chunk with its cosine similarity to the query,
// in [0,1], highest first.
type Match struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// Index is the search interface the guideline agent depends on.
type Index interface {
	Search(ctx context.Context, query string, topK int) ([]Match, error)
}

// Embedder produces dense embeddings for query text. The pgvector index
// needs one; the memory index does not.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
