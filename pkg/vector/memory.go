package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/membank-ai/backend/pkg/ai"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/logger"
)

// MemoryIndex is the in-process fallback backend. Chunks keep insertion
// order, which doubles as the tie-break for equal similarity scores.
type MemoryIndex struct {
	mu       sync.RWMutex
	embedder ai.Embedder
	dim      int

	documents map[string]common.Document
	chunks    []common.Chunk
	chunkDocs map[string]string // chunk id -> document id
}

// NewMemoryIndex creates an empty index of the given dimensionality.
// The embedder fills in embeddings for chunks ingested without one.
func NewMemoryIndex(embedder ai.Embedder, dim int) *MemoryIndex {
	return &MemoryIndex{
		embedder:  embedder,
		dim:       dim,
		documents: make(map[string]common.Document),
		chunkDocs: make(map[string]string),
	}
}

// AddDocument indexes the document and its chunks. Re-adding a document
// replaces its previous chunks; a chunk id held by another document is
// rejected so an ingest bug cannot silently overwrite foreign content.
func (idx *MemoryIndex) AddDocument(ctx context.Context, doc common.Document, chunks []common.Chunk) error {
	if doc.ID == "" {
		return fmt.Errorf("vector: document without id")
	}

	prepared := make([]common.Chunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if _, ok := seen[chunk.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, chunk.ID)
		}
		seen[chunk.ID] = struct{}{}

		if chunk.Embedding == nil {
			chunk.Embedding = idx.embed(ctx, chunk.Content)
		}
		if len(chunk.Embedding) != idx.dim {
			return fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), idx.dim)
		}
		chunk.DocumentID = doc.ID
		prepared = append(prepared, chunk)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, chunk := range prepared {
		if owner, ok := idx.chunkDocs[chunk.ID]; ok && owner != doc.ID {
			return fmt.Errorf("%w: %s already belongs to document %s", ErrDuplicateChunk, chunk.ID, owner)
		}
	}

	idx.removeDocumentLocked(doc.ID)
	idx.documents[doc.ID] = doc
	for _, chunk := range prepared {
		idx.chunks = append(idx.chunks, chunk)
		idx.chunkDocs[chunk.ID] = doc.ID
	}
	return nil
}

func (idx *MemoryIndex) embed(ctx context.Context, content string) []float32 {
	embedding, err := idx.embedder.GenerateEmbedding(ctx, []byte(content))
	if err != nil {
		logger.Warn("[Vector] Embedding failed, falling back to zero vector", "err", err)
		return make([]float32, idx.dim)
	}
	return embedding
}

// SearchSimilar scores every indexed chunk against the query embedding
// and returns the topK matches in descending score order. Insertion
// order breaks score ties.
func (idx *MemoryIndex) SearchSimilar(_ context.Context, embedding []float32, filters *common.SearchFilters, topK int) []common.ScoredChunk {
	if topK <= 0 {
		return []common.ScoredChunk{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scored := make([]common.ScoredChunk, 0, len(idx.chunks))
	for _, chunk := range idx.chunks {
		doc, ok := idx.documents[chunk.DocumentID]
		if !ok || !matchesFilters(doc, filters) {
			continue
		}
		score := Cosine(embedding, chunk.Embedding)
		if score < minScoreBound(filters) {
			continue
		}
		scored = append(scored, common.ScoredChunk{Chunk: chunk, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// GetDocuments pages through indexed documents, newest upload first.
func (idx *MemoryIndex) GetDocuments(_ context.Context, skip, limit int) []common.Document {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docs := make([]common.Document, 0, len(idx.documents))
	for _, doc := range idx.documents {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})

	if skip < 0 {
		skip = 0
	}
	if skip >= len(docs) {
		return []common.Document{}
	}
	docs = docs[skip:]
	if limit >= 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// DocumentIDs returns all indexed document ids in sorted order.
func (idx *MemoryIndex) DocumentIDs(_ context.Context) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.documents))
	for id := range idx.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteDocument removes the document and all of its chunks. Deleting
// an unknown document is a no-op.
func (idx *MemoryIndex) DeleteDocument(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeDocumentLocked(id)
	return nil
}

func (idx *MemoryIndex) removeDocumentLocked(id string) {
	if _, ok := idx.documents[id]; !ok {
		return
	}
	delete(idx.documents, id)

	kept := idx.chunks[:0]
	for _, chunk := range idx.chunks {
		if chunk.DocumentID == id {
			delete(idx.chunkDocs, chunk.ID)
			continue
		}
		kept = append(kept, chunk)
	}
	idx.chunks = kept
}

func (idx *MemoryIndex) Health(ctx context.Context) common.Health {
	embedderState := "ok"
	if _, err := idx.embedder.GenerateEmbedding(ctx, []byte("health check")); err != nil {
		embedderState = err.Error()
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return common.Health{
		Status: common.HealthStatusDegraded,
		Details: map[string]any{
			"backend":   "memory",
			"embedder":  embedderState,
			"documents": len(idx.documents),
			"chunks":    len(idx.chunks),
			"dim":       idx.dim,
		},
	}
}
