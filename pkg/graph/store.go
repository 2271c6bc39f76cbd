package graph

import (
	"context"

	"github.com/membank-ai/backend/pkg/common"
)

// snapshot display constants, shared by both backends.
const (
	nodeColor       = "#3b82f6"
	nodeSizeScale   = 10
	nodeSizeCap     = 50
	minEdgeStrength = 2
)

// KnowledgeStore persists the concept/entity graph and answers
// structural queries over it. Two interchangeable backends exist: a
// Postgres-backed property graph and an in-memory adjacency store used
// as the fallback when no database is reachable. Both implement
// identical external behavior; callers never branch on the backend.
//
// Failures inside a store never propagate as errors: operations degrade
// to "not stored" / empty results and log, so ingestion and querying
// continue against a partially available system.
type KnowledgeStore interface {
	// StoreKnowledge upserts the extraction's entities, concepts and
	// relationships and attaches them to the source document.
	// Idempotent: storing the same extraction twice leaves edge
	// strengths unchanged. Returns false on a soft failure.
	StoreKnowledge(ctx context.Context, extraction common.Extraction) bool

	// FindRelatedConcepts returns nodes that co-occur with name in at
	// least one shared document, ranked descending by shared-document
	// count with ties broken by name. The queried concept itself is
	// excluded.
	FindRelatedConcepts(ctx context.Context, name string, maxResults int) []common.RelatedConcept

	// SearchKnowledgePaths returns the shortest path between two
	// concepts over the co-occurrence graph, restricted to at most
	// maxDepth edges. Neighbors expand in lexicographic order, so among
	// equal-length paths the lexicographically smallest is returned.
	// Empty if unreachable within maxDepth.
	SearchKnowledgePaths(ctx context.Context, start, end string, maxDepth int) [][]string

	// GraphData returns a bounded visualization snapshot: the top-limit
	// nodes by document-mention count and the edges among them with
	// strength >= 2.
	GraphData(ctx context.Context, limit int) common.GraphSnapshot

	// DeleteDocument removes the document's contributions from the
	// graph, pruning nodes that no document mentions anymore.
	DeleteDocument(ctx context.Context, documentID string)

	Health(ctx context.Context) common.Health
}

func scaleNodeSize(docCount int) int {
	size := docCount * nodeSizeScale
	if size > nodeSizeCap {
		return nodeSizeCap
	}
	return size
}
