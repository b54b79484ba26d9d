package retrieval

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/maternahealth/materna/internal/retrieval")

//go:embed schema.sql
var schema string

// PgIndex searches guideline chunks stored in postgres with pgvector.
// Query embeddings come from the configured Embedder; chunk embeddings are
// written at ingest time.
type PgIndex struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewPgIndex applies the guideline schema and returns a ready index.
func NewPgIndex(ctx context.Context, pool *pgxpool.Pool, embedder Embedder) (*PgIndex, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply guideline schema: %w", err)
	}
	return &PgIndex{pool: pool, embedder: embedder}, nil
}

// Search embeds the query and runs a cosine-distance nearest-neighbor scan.
func (idx *PgIndex) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.Int("retrieval.top_k", topK),
	))
	defer span.End()

	vec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := idx.pool.Query(ctx,
		`SELECT chunk_text, source, 1 - (embedding <=> $1::vector) AS similarity
		 FROM guideline_chunks
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		vectorLiteral(vec), topK,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Text, &m.Source, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))
	return matches, nil
}

// Ingest embeds and upserts chunks into the corpus table. Used by the seed
// path at startup and by offline corpus loads.
func (idx *PgIndex) Ingest(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		vec, err := idx.embedder.Embed(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %q: %w", c.Source, err)
		}
		_, err = idx.pool.Exec(ctx,
			`INSERT INTO guideline_chunks (chunk_text, source, embedding)
			 VALUES ($1, $2, $3::vector)
			 ON CONFLICT (chunk_text) DO UPDATE SET
				source = EXCLUDED.source,
				embedding = EXCLUDED.embedding`,
			c.Text, c.Source, vectorLiteral(vec),
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %q: %w", c.Source, err)
		}
	}
	return nil
}

// Count returns the number of indexed chunks.
func (idx *PgIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := idx.pool.QueryRow(ctx, `SELECT count(*) FROM guideline_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// vectorLiteral renders a float slice in pgvector's input syntax.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
