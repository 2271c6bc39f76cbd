// Package vector provides chunk-level similarity search over document
// embeddings, with an in-process index for degraded operation and a
// pgvector-backed index for persistent deployments.
package vector

import (
	"context"
	"errors"
	"math"

	"github.com/membank-ai/backend/pkg/common"
)

var (
	// ErrDuplicateChunk is returned when a chunk id already exists in
	// the index under a different document.
	ErrDuplicateChunk = errors.New("vector: duplicate chunk id")

	// ErrDimensionMismatch is returned when a chunk carries an embedding
	// whose length differs from the index dimensionality.
	ErrDimensionMismatch = errors.New("vector: embedding dimension mismatch")
)

// Index is the retrieval surface of the subsystem. Search is a soft
// operation and returns an empty slice on backend failure; mutations
// report errors so ingestion can surface them.
type Index interface {
	AddDocument(ctx context.Context, doc common.Document, chunks []common.Chunk) error
	SearchSimilar(ctx context.Context, embedding []float32, filters *common.SearchFilters, topK int) []common.ScoredChunk
	GetDocuments(ctx context.Context, skip, limit int) []common.Document
	DocumentIDs(ctx context.Context) []string
	DeleteDocument(ctx context.Context, id string) error
	Health(ctx context.Context) common.Health
}

// Cosine computes cosine similarity between two vectors. Mismatched
// lengths and zero-norm inputs score 0 rather than erroring, so a failed
// embedding degrades retrieval instead of breaking it.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// minScoreBound is the lowest score a result may carry. Cosine
// similarity never drops below -1, so the nil-filter bound of -2
// admits every chunk. Both index backends apply the same bound.
func minScoreBound(filters *common.SearchFilters) float64 {
	if filters == nil {
		return -2
	}
	return filters.MinScore
}

// matchesFilters reports whether a chunk's parent document passes the
// tag and file-type restrictions. Nil filters match everything.
func matchesFilters(doc common.Document, filters *common.SearchFilters) bool {
	if filters == nil {
		return true
	}
	if len(filters.Tags) > 0 && !anyOverlap(doc.Tags, filters.Tags) {
		return false
	}
	if len(filters.FileTypes) > 0 {
		found := false
		for _, fileType := range filters.FileTypes {
			if doc.FileType == fileType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func anyOverlap(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
