package graph

import (
	"context"
	"sync"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/membank-ai/backend/internal/util"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/extract"
	"github.com/membank-ai/backend/pkg/logger"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// DBStore implements KnowledgeStore on PostgreSQL. Reads answer straight
// from the mention tables; writes serialize through a mutex so that
// concurrent ingestion of the same names cannot deadlock on upserts.
type DBStore struct {
	conn   pgxIConn
	dbLock sync.Mutex
}

// NewDBStoreWithConnection creates a DBStore using an existing database
// connection or pool. Schema setup is the caller's responsibility.
func NewDBStoreWithConnection(conn pgxIConn) *DBStore {
	return &DBStore{conn: conn}
}

// mentionsCTE unifies concept and entity mentions into one relation of
// (name, document_id) rows. Co-occurrence queries build on it so that
// strength always counts distinct documents.
const mentionsCTE = `
	WITH mentions AS (
		SELECT concept_name AS name, document_id FROM concept_mentions
		UNION
		SELECT entity_name AS name, document_id FROM entity_mentions
	)`

func (s *DBStore) StoreKnowledge(ctx context.Context, extraction common.Extraction) bool {
	if extraction.DocumentID == "" {
		logger.Warn("[Graph] Refusing extraction without document id")
		return false
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		logger.Error("[Graph] Failed to begin transaction", "err", err)
		return false
	}
	defer tx.Rollback(ctx)

	docID := extraction.DocumentID
	if err := s.clearDocument(ctx, tx, docID); err != nil {
		logger.Error("[Graph] Failed to clear prior knowledge", "doc", docID, "err", err)
		return false
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO graph_documents (id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET processed_at = EXCLUDED.processed_at
	`, docID, extraction.ProcessedAt); err != nil {
		logger.Error("[Graph] Failed to upsert document", "doc", docID, "err", err)
		return false
	}

	for _, concept := range extraction.Concepts {
		name := extract.NormalizeName(concept.Name)
		if name == "" {
			continue
		}
		frequency := concept.Frequency
		if frequency < 1 {
			frequency = 1
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO graph_concepts (name, type)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type
		`, name, concept.Type); err != nil {
			logger.Error("[Graph] Failed to upsert concept", "name", name, "err", err)
			return false
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO concept_mentions (concept_name, document_id, frequency)
			VALUES ($1, $2, $3)
			ON CONFLICT (concept_name, document_id)
			DO UPDATE SET frequency = concept_mentions.frequency + EXCLUDED.frequency
		`, name, docID, frequency); err != nil {
			logger.Error("[Graph] Failed to record concept mention", "name", name, "err", err)
			return false
		}
	}

	for _, entity := range extraction.Entities {
		name := extract.NormalizeName(entity.Name)
		if name == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO graph_entities (name, type, confidence)
			VALUES ($1, $2, $3)
			ON CONFLICT (name, type)
			DO UPDATE SET confidence = GREATEST(graph_entities.confidence, EXCLUDED.confidence)
		`, name, entity.Type, entity.Confidence); err != nil {
			logger.Error("[Graph] Failed to upsert entity", "name", name, "err", err)
			return false
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_mentions (entity_name, document_id)
			VALUES ($1, $2)
			ON CONFLICT (entity_name, document_id) DO NOTHING
		`, name, docID); err != nil {
			logger.Error("[Graph] Failed to record entity mention", "name", name, "err", err)
			return false
		}
	}

	for _, relation := range extraction.Relationships {
		subject := extract.NormalizeName(relation.Subject)
		object := extract.NormalizeName(relation.Object)
		predicate := extract.NormalizeName(relation.Predicate)
		if subject == "" || object == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO graph_relations (subject, predicate, object, document_id, confidence, sentence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (subject, predicate, object, document_id)
			DO UPDATE SET confidence = EXCLUDED.confidence, sentence = EXCLUDED.sentence
		`, subject, predicate, object, docID, relation.Confidence, util.SanitizePostgresText(relation.Sentence)); err != nil {
			logger.Error("[Graph] Failed to upsert relation", "subject", subject, "object", object, "err", err)
			return false
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Error("[Graph] Failed to commit knowledge", "doc", docID, "err", err)
		return false
	}
	return true
}

func (s *DBStore) clearDocument(ctx context.Context, tx pgxv5.Tx, docID string) error {
	statements := []string{
		`DELETE FROM concept_mentions WHERE document_id = $1`,
		`DELETE FROM entity_mentions WHERE document_id = $1`,
		`DELETE FROM graph_relations WHERE document_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, docID); err != nil {
			return err
		}
	}
	return nil
}

func (s *DBStore) FindRelatedConcepts(ctx context.Context, name string, maxResults int) []common.RelatedConcept {
	queried := extract.NormalizeName(name)

	rows, err := s.conn.Query(ctx, mentionsCTE+`
		, docs AS (
			SELECT document_id FROM mentions WHERE name = $1
		)
		SELECT
			m.name,
			COALESCE(
				gc.type,
				(SELECT MIN(ge.type) FROM graph_entities ge WHERE ge.name = m.name),
				'concept'
			) AS type,
			COUNT(DISTINCT m.document_id) AS shared
		FROM mentions m
		JOIN docs d ON m.document_id = d.document_id
		LEFT JOIN graph_concepts gc ON gc.name = m.name
		WHERE m.name <> $1
		GROUP BY m.name, gc.type
		ORDER BY shared DESC, m.name ASC
		LIMIT $2
	`, queried, maxResults)
	if err != nil {
		logger.Error("[Graph] Related-concept query failed", "name", queried, "err", err)
		return []common.RelatedConcept{}
	}
	defer rows.Close()

	related := make([]common.RelatedConcept, 0, maxResults)
	for rows.Next() {
		var concept common.RelatedConcept
		if err := rows.Scan(&concept.Name, &concept.Type, &concept.SharedDocuments); err != nil {
			logger.Error("[Graph] Failed to scan related concept", "err", err)
			return []common.RelatedConcept{}
		}
		concept.RelationshipType = "co_occurrence"
		related = append(related, concept)
	}
	if err := rows.Err(); err != nil {
		logger.Error("[Graph] Related-concept rows failed", "err", err)
		return []common.RelatedConcept{}
	}
	return related
}

func (s *DBStore) SearchKnowledgePaths(ctx context.Context, start, end string, maxDepth int) [][]string {
	adjacency, err := s.loadAdjacency(ctx)
	if err != nil {
		logger.Error("[Graph] Failed to load adjacency", "err", err)
		return [][]string{}
	}

	path := shortestPath(adjacency, extract.NormalizeName(start), extract.NormalizeName(end), maxDepth)
	if path == nil {
		return [][]string{}
	}
	return [][]string{path}
}

// loadAdjacency materializes the co-occurrence edges. Neighbor lists
// arrive pre-sorted so BFS expansion order is deterministic.
func (s *DBStore) loadAdjacency(ctx context.Context) (map[string][]string, error) {
	rows, err := s.conn.Query(ctx, mentionsCTE+`
		SELECT DISTINCT a.name, b.name
		FROM mentions a
		JOIN mentions b ON a.document_id = b.document_id AND a.name <> b.name
		ORDER BY a.name, b.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adjacency[from] = append(adjacency[from], to)
	}
	return adjacency, rows.Err()
}

func (s *DBStore) GraphData(ctx context.Context, limit int) common.GraphSnapshot {
	snapshot := common.GraphSnapshot{
		Nodes:       []common.GraphNode{},
		Edges:       []common.GraphEdge{},
		GeneratedAt: time.Now().UTC(),
	}

	rows, err := s.conn.Query(ctx, mentionsCTE+`
		SELECT name, COUNT(DISTINCT document_id) AS doc_count
		FROM mentions
		GROUP BY name
		ORDER BY doc_count DESC, name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		logger.Error("[Graph] Snapshot node query failed", "err", err)
		return snapshot
	}

	names := make([]string, 0, limit)
	for rows.Next() {
		var name string
		var docCount int
		if err := rows.Scan(&name, &docCount); err != nil {
			rows.Close()
			logger.Error("[Graph] Failed to scan snapshot node", "err", err)
			return snapshot
		}
		names = append(names, name)
		snapshot.Nodes = append(snapshot.Nodes, common.GraphNode{
			ID:    name,
			Label: name,
			Type:  common.ConceptTypeConcept,
			Size:  scaleNodeSize(docCount),
			Color: nodeColor,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		logger.Error("[Graph] Snapshot node rows failed", "err", err)
		return snapshot
	}

	edgeRows, err := s.conn.Query(ctx, mentionsCTE+`
		SELECT a.name, b.name, COUNT(DISTINCT a.document_id) AS strength
		FROM mentions a
		JOIN mentions b ON a.document_id = b.document_id AND a.name < b.name
		WHERE a.name = ANY($1) AND b.name = ANY($1)
		GROUP BY a.name, b.name
		HAVING COUNT(DISTINCT a.document_id) >= $2
		ORDER BY a.name, b.name
	`, names, minEdgeStrength)
	if err != nil {
		logger.Error("[Graph] Snapshot edge query failed", "err", err)
		return snapshot
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var edge common.GraphEdge
		if err := edgeRows.Scan(&edge.Source, &edge.Target, &edge.Strength); err != nil {
			logger.Error("[Graph] Failed to scan snapshot edge", "err", err)
			return snapshot
		}
		edge.Type = "co_occurrence"
		snapshot.Edges = append(snapshot.Edges, edge)
	}
	if err := edgeRows.Err(); err != nil {
		logger.Error("[Graph] Snapshot edge rows failed", "err", err)
		return snapshot
	}

	snapshot.TotalNodes = len(snapshot.Nodes)
	snapshot.TotalEdges = len(snapshot.Edges)
	return snapshot
}

func (s *DBStore) DeleteDocument(ctx context.Context, documentID string) {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		logger.Error("[Graph] Failed to begin delete transaction", "err", err)
		return
	}
	defer tx.Rollback(ctx)

	if err := s.clearDocument(ctx, tx, documentID); err != nil {
		logger.Error("[Graph] Failed to delete knowledge", "doc", documentID, "err", err)
		return
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_documents WHERE id = $1`, documentID); err != nil {
		logger.Error("[Graph] Failed to delete document", "doc", documentID, "err", err)
		return
	}

	// Prune nodes no remaining document mentions.
	prune := []string{
		`DELETE FROM graph_concepts gc
		 WHERE NOT EXISTS (SELECT 1 FROM concept_mentions cm WHERE cm.concept_name = gc.name)`,
		`DELETE FROM graph_entities ge
		 WHERE NOT EXISTS (SELECT 1 FROM entity_mentions em WHERE em.entity_name = ge.name)`,
	}
	for _, stmt := range prune {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			logger.Error("[Graph] Failed to prune orphan nodes", "err", err)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Error("[Graph] Failed to commit delete", "doc", documentID, "err", err)
	}
}

func (s *DBStore) Health(ctx context.Context) common.Health {
	var documents, concepts, entities int
	err := s.conn.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM graph_documents),
			(SELECT COUNT(*) FROM graph_concepts),
			(SELECT COUNT(*) FROM graph_entities)
	`).Scan(&documents, &concepts, &entities)
	if err != nil {
		return common.Health{
			Status:  common.HealthStatusUnhealthy,
			Details: map[string]any{"backend": "postgres", "error": err.Error()},
		}
	}

	return common.Health{
		Status: common.HealthStatusHealthy,
		Details: map[string]any{
			"backend":   "postgres",
			"documents": documents,
			"concepts":  concepts,
			"entities":  entities,
		},
	}
}
