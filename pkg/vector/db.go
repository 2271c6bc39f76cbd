package vector

import (
	"context"
	"fmt"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/membank-ai/backend/internal/util"
	"github.com/membank-ai/backend/pkg/ai"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/logger"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// DBIndex stores documents and chunk embeddings in PostgreSQL and ranks
// by pgvector cosine distance. Writes serialize through a mutex.
type DBIndex struct {
	conn     pgxIConn
	embedder ai.Embedder
	dim      int
	dbLock   sync.Mutex
}

// NewDBIndexWithConnection creates a DBIndex over an existing connection
// or pool. The embedding column dimensionality must match dim.
func NewDBIndexWithConnection(conn pgxIConn, embedder ai.Embedder, dim int) *DBIndex {
	return &DBIndex{conn: conn, embedder: embedder, dim: dim}
}

func (idx *DBIndex) AddDocument(ctx context.Context, doc common.Document, chunks []common.Chunk) error {
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
			embedding, err := idx.embedder.GenerateEmbedding(ctx, []byte(chunk.Content))
			if err != nil {
				logger.Warn("[Vector] Embedding failed, falling back to zero vector", "err", err)
				embedding = make([]float32, idx.dim)
			}
			chunk.Embedding = embedding
		}
		if len(chunk.Embedding) != idx.dim {
			return fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), idx.dim)
		}
		chunk.DocumentID = doc.ID
		prepared = append(prepared, chunk)
	}

	idx.dbLock.Lock()
	defer idx.dbLock.Unlock()

	tx, err := idx.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vector: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (id, title, content, tags, file_type, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			tags = EXCLUDED.tags,
			file_type = EXCLUDED.file_type,
			uploaded_at = EXCLUDED.uploaded_at
	`, doc.ID, util.SanitizePostgresText(doc.Title), util.SanitizePostgresText(doc.Content),
		doc.Tags, string(doc.FileType), doc.UploadedAt); err != nil {
		return fmt.Errorf("vector: upsert document %s: %w", doc.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("vector: clear chunks of %s: %w", doc.ID, err)
	}

	for _, chunk := range prepared {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, content, chunk_index, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, chunk.ID, chunk.DocumentID, util.SanitizePostgresText(chunk.Content), chunk.Index, pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("vector: insert chunk %s: %w", chunk.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (idx *DBIndex) SearchSimilar(ctx context.Context, embedding []float32, filters *common.SearchFilters, topK int) []common.ScoredChunk {
	if topK <= 0 || len(embedding) != idx.dim {
		return []common.ScoredChunk{}
	}

	var tags []string
	var fileTypes []string
	if filters != nil {
		tags = filters.Tags
		for _, fileType := range filters.FileTypes {
			fileTypes = append(fileTypes, string(fileType))
		}
	}
	minScore := minScoreBound(filters)

	rows, err := idx.conn.Query(ctx, `
		SELECT c.id, c.document_id, c.content, c.chunk_index,
		       1 - (c.embedding <=> $1) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE (cardinality($2::text[]) = 0 OR d.tags && $2)
		  AND (cardinality($3::text[]) = 0 OR d.file_type = ANY($3))
		  AND 1 - (c.embedding <=> $1) >= $4
		ORDER BY c.embedding <=> $1 ASC, d.uploaded_at ASC, c.chunk_index ASC
		LIMIT $5
	`, pgvector.NewVector(embedding), tags, fileTypes, minScore, topK)
	if err != nil {
		logger.Error("[Vector] Similarity query failed", "err", err)
		return []common.ScoredChunk{}
	}
	defer rows.Close()

	results := make([]common.ScoredChunk, 0, topK)
	for rows.Next() {
		var scored common.ScoredChunk
		if err := rows.Scan(&scored.Chunk.ID, &scored.Chunk.DocumentID, &scored.Chunk.Content, &scored.Chunk.Index, &scored.Score); err != nil {
			logger.Error("[Vector] Failed to scan similarity row", "err", err)
			return []common.ScoredChunk{}
		}
		results = append(results, scored)
	}
	if err := rows.Err(); err != nil {
		logger.Error("[Vector] Similarity rows failed", "err", err)
		return []common.ScoredChunk{}
	}
	return results
}

func (idx *DBIndex) GetDocuments(ctx context.Context, skip, limit int) []common.Document {
	if skip < 0 {
		skip = 0
	}
	var limitArg any
	if limit >= 0 {
		limitArg = limit
	}

	rows, err := idx.conn.Query(ctx, `
		SELECT id, title, tags, file_type, uploaded_at
		FROM documents
		ORDER BY uploaded_at DESC, id ASC
		OFFSET $1 LIMIT $2
	`, skip, limitArg)
	if err != nil {
		logger.Error("[Vector] Document listing failed", "err", err)
		return []common.Document{}
	}
	defer rows.Close()

	docs := make([]common.Document, 0)
	for rows.Next() {
		var doc common.Document
		var fileType string
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Tags, &fileType, &doc.UploadedAt); err != nil {
			logger.Error("[Vector] Failed to scan document", "err", err)
			return []common.Document{}
		}
		doc.FileType = common.FileType(fileType)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		logger.Error("[Vector] Document rows failed", "err", err)
		return []common.Document{}
	}
	return docs
}

func (idx *DBIndex) DocumentIDs(ctx context.Context) []string {
	rows, err := idx.conn.Query(ctx, `SELECT id FROM documents ORDER BY id ASC`)
	if err != nil {
		logger.Error("[Vector] Document id listing failed", "err", err)
		return []string{}
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logger.Error("[Vector] Failed to scan document id", "err", err)
			return []string{}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		logger.Error("[Vector] Document id rows failed", "err", err)
		return []string{}
	}
	return ids
}

// DeleteDocument removes the document; chunks cascade via foreign key.
func (idx *DBIndex) DeleteDocument(ctx context.Context, id string) error {
	idx.dbLock.Lock()
	defer idx.dbLock.Unlock()

	if _, err := idx.conn.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("vector: delete document %s: %w", id, err)
	}
	return nil
}

func (idx *DBIndex) Health(ctx context.Context) common.Health {
	var documents, chunks int
	err := idx.conn.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)
	`).Scan(&documents, &chunks)
	if err != nil {
		return common.Health{
			Status:  common.HealthStatusUnhealthy,
			Details: map[string]any{"backend": "postgres", "error": err.Error()},
		}
	}

	status := common.HealthStatusHealthy
	embedderState := "ok"
	if _, err := idx.embedder.GenerateEmbedding(ctx, []byte("health check")); err != nil {
		status = common.HealthStatusDegraded
		embedderState = err.Error()
	}

	return common.Health{
		Status: status,
		Details: map[string]any{
			"backend":   "postgres",
			"embedder":  embedderState,
			"documents": documents,
			"chunks":    chunks,
			"dim":       idx.dim,
		},
	}
}
