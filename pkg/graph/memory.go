package graph

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/extract"
	"github.com/membank-ai/backend/pkg/logger"
)

type memNode struct {
	kind       string // "concept" | "entity"
	nodeType   string
	confidence float64
	docFreq    map[string]int // per-document frequency contribution
}

type relationKey struct {
	subject   string
	predicate string
	object    string
}

type memRelation struct {
	relation common.Relationship
	docs     map[string]struct{}
}

// MemoryStore is the in-process fallback backend: an adjacency map over
// per-document mention sets, guarded by one RWMutex. Strength and
// co-occurrence are always derived from the mention sets, so repeated
// ingestion of the same document cannot inflate them.
type MemoryStore struct {
	mu sync.RWMutex

	concepts map[string]*memNode           // keyed by name
	entities map[string]map[string]*memNode // name -> type -> node
	mentions map[string]map[string]struct{} // document id -> mentioned names
	nameDocs map[string]map[string]struct{} // name -> document ids
	relations map[relationKey]*memRelation
}

// NewMemoryStore creates an empty in-memory knowledge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		concepts:  make(map[string]*memNode),
		entities:  make(map[string]map[string]*memNode),
		mentions:  make(map[string]map[string]struct{}),
		nameDocs:  make(map[string]map[string]struct{}),
		relations: make(map[relationKey]*memRelation),
	}
}

// StoreKnowledge upserts the extraction into the adjacency tables.
// A document's previous contribution is replaced wholesale, which makes
// re-ingestion idempotent and re-ingestion of a changed document an
// update rather than an accumulation.
func (s *MemoryStore) StoreKnowledge(_ context.Context, extraction common.Extraction) bool {
	if extraction.DocumentID == "" {
		logger.Warn("[Graph] Refusing extraction without document id")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeDocumentLocked(extraction.DocumentID)

	docID := extraction.DocumentID
	s.mentions[docID] = make(map[string]struct{})

	for _, concept := range extraction.Concepts {
		name := extract.NormalizeName(concept.Name)
		if name == "" {
			continue
		}
		node, ok := s.concepts[name]
		if !ok {
			node = &memNode{kind: "concept", docFreq: make(map[string]int)}
			s.concepts[name] = node
		}
		node.nodeType = concept.Type
		frequency := concept.Frequency
		if frequency < 1 {
			frequency = 1
		}
		node.docFreq[docID] += frequency
		s.mentionLocked(docID, name)
	}

	for _, entity := range extraction.Entities {
		name := extract.NormalizeName(entity.Name)
		if name == "" {
			continue
		}
		byType, ok := s.entities[name]
		if !ok {
			byType = make(map[string]*memNode)
			s.entities[name] = byType
		}
		node, ok := byType[entity.Type]
		if !ok {
			node = &memNode{kind: "entity", nodeType: entity.Type, docFreq: make(map[string]int)}
			byType[entity.Type] = node
		}
		if entity.Confidence > node.confidence {
			node.confidence = entity.Confidence
		}
		node.docFreq[docID] = 1
		s.mentionLocked(docID, name)
	}

	for _, relation := range extraction.Relationships {
		key := relationKey{
			subject:   extract.NormalizeName(relation.Subject),
			predicate: extract.NormalizeName(relation.Predicate),
			object:    extract.NormalizeName(relation.Object),
		}
		if key.subject == "" || key.object == "" {
			continue
		}
		rel, ok := s.relations[key]
		if !ok {
			rel = &memRelation{docs: make(map[string]struct{})}
			s.relations[key] = rel
		}
		rel.relation = relation
		rel.docs[docID] = struct{}{}
	}

	return true
}

func (s *MemoryStore) mentionLocked(docID, name string) {
	s.mentions[docID][name] = struct{}{}
	docs, ok := s.nameDocs[name]
	if !ok {
		docs = make(map[string]struct{})
		s.nameDocs[name] = docs
	}
	docs[docID] = struct{}{}
}

// FindRelatedConcepts counts, for every other node, the documents it
// shares with the queried name, ranked descending with lexicographic
// tie-break.
func (s *MemoryStore) FindRelatedConcepts(_ context.Context, name string, maxResults int) []common.RelatedConcept {
	queried := extract.NormalizeName(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	shared := make(map[string]int)
	for docID := range s.nameDocs[queried] {
		for other := range s.mentions[docID] {
			if other == queried {
				continue
			}
			shared[other]++
		}
	}

	names := make([]string, 0, len(shared))
	for other := range shared {
		names = append(names, other)
	}
	sort.Slice(names, func(i, j int) bool {
		if shared[names[i]] != shared[names[j]] {
			return shared[names[i]] > shared[names[j]]
		}
		return names[i] < names[j]
	})

	if maxResults >= 0 && len(names) > maxResults {
		names = names[:maxResults]
	}

	related := make([]common.RelatedConcept, 0, len(names))
	for _, other := range names {
		related = append(related, common.RelatedConcept{
			Name:             other,
			Type:             s.displayTypeLocked(other),
			SharedDocuments:  shared[other],
			RelationshipType: "co_occurrence",
		})
	}
	return related
}

func (s *MemoryStore) displayTypeLocked(name string) string {
	if node, ok := s.concepts[name]; ok {
		return node.nodeType
	}
	if byType, ok := s.entities[name]; ok {
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)
		if len(types) > 0 {
			return types[0]
		}
	}
	return common.ConceptTypeConcept
}

// SearchKnowledgePaths runs BFS over the co-occurrence adjacency.
func (s *MemoryStore) SearchKnowledgePaths(_ context.Context, start, end string, maxDepth int) [][]string {
	s.mu.RLock()
	adjacency := s.adjacencyLocked()
	s.mu.RUnlock()

	path := shortestPath(adjacency, extract.NormalizeName(start), extract.NormalizeName(end), maxDepth)
	if path == nil {
		return [][]string{}
	}
	return [][]string{path}
}

func (s *MemoryStore) adjacencyLocked() map[string][]string {
	neighborSets := make(map[string]map[string]struct{}, len(s.nameDocs))
	for _, names := range s.mentions {
		for a := range names {
			set, ok := neighborSets[a]
			if !ok {
				set = make(map[string]struct{})
				neighborSets[a] = set
			}
			for b := range names {
				if a != b {
					set[b] = struct{}{}
				}
			}
		}
	}

	adjacency := make(map[string][]string, len(neighborSets))
	for name, set := range neighborSets {
		neighbors := make([]string, 0, len(set))
		for neighbor := range set {
			neighbors = append(neighbors, neighbor)
		}
		sort.Strings(neighbors)
		adjacency[name] = neighbors
	}
	return adjacency
}

// GraphData builds the bounded visualization snapshot.
func (s *MemoryStore) GraphData(_ context.Context, limit int) common.GraphSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.nameDocs))
	for name := range s.nameDocs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := len(s.nameDocs[names[i]]), len(s.nameDocs[names[j]])
		if di != dj {
			return di > dj
		}
		return names[i] < names[j]
	})
	if limit >= 0 && len(names) > limit {
		names = names[:limit]
	}

	nodes := make([]common.GraphNode, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, common.GraphNode{
			ID:    name,
			Label: name,
			Type:  common.ConceptTypeConcept,
			Size:  scaleNodeSize(len(s.nameDocs[name])),
			Color: nodeColor,
		})
	}

	edges := make([]common.GraphEdge, 0)
	for i, a := range names {
		for _, b := range names[i+1:] {
			strength := s.sharedDocsLocked(a, b)
			if strength < minEdgeStrength {
				continue
			}
			edges = append(edges, common.GraphEdge{
				Source:   a,
				Target:   b,
				Strength: strength,
				Type:     "co_occurrence",
			})
		}
	}

	return common.GraphSnapshot{
		Nodes:       nodes,
		Edges:       edges,
		TotalNodes:  len(nodes),
		TotalEdges:  len(edges),
		GeneratedAt: time.Now().UTC(),
	}
}

func (s *MemoryStore) sharedDocsLocked(a, b string) int {
	docsA, docsB := s.nameDocs[a], s.nameDocs[b]
	if len(docsB) < len(docsA) {
		docsA, docsB = docsB, docsA
	}
	count := 0
	for docID := range docsA {
		if _, ok := docsB[docID]; ok {
			count++
		}
	}
	return count
}

// DeleteDocument removes the document's contribution; nodes no document
// mentions anymore are pruned.
func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeDocumentLocked(documentID)
}

func (s *MemoryStore) removeDocumentLocked(docID string) {
	names, ok := s.mentions[docID]
	if ok {
		for name := range names {
			if docs, ok := s.nameDocs[name]; ok {
				delete(docs, docID)
				if len(docs) == 0 {
					delete(s.nameDocs, name)
				}
			}
		}
		delete(s.mentions, docID)
	}

	for name, node := range s.concepts {
		delete(node.docFreq, docID)
		if len(node.docFreq) == 0 {
			delete(s.concepts, name)
		}
	}
	for name, byType := range s.entities {
		for entityType, node := range byType {
			delete(node.docFreq, docID)
			if len(node.docFreq) == 0 {
				delete(byType, entityType)
			}
		}
		if len(byType) == 0 {
			delete(s.entities, name)
		}
	}
	for key, rel := range s.relations {
		delete(rel.docs, docID)
		if len(rel.docs) == 0 {
			delete(s.relations, key)
		}
	}
}

// Health always reports the fallback backend as degraded relative to
// the persistent store, with current table sizes as details.
func (s *MemoryStore) Health(_ context.Context) common.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return common.Health{
		Status: common.HealthStatusDegraded,
		Details: map[string]any{
			"backend":   "memory",
			"documents": len(s.mentions),
			"concepts":  len(s.concepts),
			"entities":  len(s.entities),
		},
	}
}

// documentRecord is the flat serialization unit for persisting the
// in-memory graph across restarts.
type documentRecord struct {
	DocumentID    string                `json:"document_id"`
	Entities      []common.Entity       `json:"entities"`
	Concepts      []common.Concept      `json:"concepts"`
	Relationships []common.Relationship `json:"relationships"`
}

// Persist writes the store as flat per-document records.
func (s *MemoryStore) Persist(path string) error {
	s.mu.RLock()
	records := s.recordsLocked()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *MemoryStore) recordsLocked() []documentRecord {
	docIDs := make([]string, 0, len(s.mentions))
	for docID := range s.mentions {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	records := make([]documentRecord, 0, len(docIDs))
	for _, docID := range docIDs {
		record := documentRecord{DocumentID: docID}

		names := make([]string, 0, len(s.mentions[docID]))
		for name := range s.mentions[docID] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if node, ok := s.concepts[name]; ok {
				if frequency, ok := node.docFreq[docID]; ok {
					record.Concepts = append(record.Concepts, common.Concept{
						Name:      name,
						Type:      node.nodeType,
						Frequency: frequency,
					})
				}
			}
			byType, ok := s.entities[name]
			if !ok {
				continue
			}
			types := make([]string, 0, len(byType))
			for entityType := range byType {
				types = append(types, entityType)
			}
			sort.Strings(types)
			for _, entityType := range types {
				node := byType[entityType]
				if _, ok := node.docFreq[docID]; ok {
					record.Entities = append(record.Entities, common.Entity{
						Name:       name,
						Type:       entityType,
						Confidence: node.confidence,
					})
				}
			}
		}

		for _, rel := range s.relations {
			if _, ok := rel.docs[docID]; ok {
				record.Relationships = append(record.Relationships, rel.relation)
			}
		}
		sort.Slice(record.Relationships, func(i, j int) bool {
			a, b := record.Relationships[i], record.Relationships[j]
			if a.Subject != b.Subject {
				return a.Subject < b.Subject
			}
			if a.Predicate != b.Predicate {
				return a.Predicate < b.Predicate
			}
			return a.Object < b.Object
		})

		records = append(records, record)
	}
	return records
}

// NewMemoryStoreFromFile rebuilds a MemoryStore from records written by
// Persist. A missing file yields an empty store.
func NewMemoryStoreFromFile(path string) (*MemoryStore, error) {
	store := NewMemoryStore()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, err
	}

	var records []documentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	for _, record := range records {
		store.StoreKnowledge(context.Background(), common.Extraction{
			DocumentID:    record.DocumentID,
			Entities:      record.Entities,
			Concepts:      record.Concepts,
			Relationships: record.Relationships,
		})
	}
	return store, nil
}
