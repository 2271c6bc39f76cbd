package common

import "time"

// FileType classifies the original upload a document was extracted from.
type FileType string

const (
	FileTypeText  FileType = "text"
	FileTypePDF   FileType = "pdf"
	FileTypeAudio FileType = "audio"
	FileTypeImage FileType = "image"
)

// Document is the metadata record for one ingested document. A document
// exclusively owns its chunks; deleting it cascades to them. Content is
// the already-extracted plain text (binary decoding happens upstream).
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	Tags       []string  `json:"tags"`
	FileType   FileType  `json:"file_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk is a bounded slice of a document's content, the unit of
// embedding and retrieval. Embedding is nil until processed; once set,
// its dimensionality never changes.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	Index      int       `json:"chunk_index"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Entity is a named thing extracted from a document, such as a person or
// an organization. Identity key is (Name, Type); Name is case-normalized
// at the extraction boundary.
type Entity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Concept is a topic or noun-phrase concept extracted from a document.
// Identity key is Name alone; Frequency aggregates across a document.
type Concept struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Frequency int    `json:"frequency"`
}

const (
	ConceptTypeTopic   = "topic"
	ConceptTypeConcept = "concept"
)

// Relationship is a directed, verb-linked edge between two entities,
// with the sentence it was found in as provenance.
type Relationship struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Sentence   string  `json:"sentence"`
}

// Extraction is the per-document result produced by an extractor
// collaborator and consumed by the knowledge graph store.
type Extraction struct {
	DocumentID    string         `json:"document_id"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Concepts      []Concept      `json:"concepts"`
	ProcessedAt   time.Time      `json:"processed_at"`
}

// RelatedConcept is one entry of a relatedness query: a node that shares
// at least one document with the queried concept.
type RelatedConcept struct {
	Name             string `json:"concept"`
	Type             string `json:"type"`
	SharedDocuments  int    `json:"shared_documents"`
	RelationshipType string `json:"relationship_type"`
}

// GraphNode is a display-scaled node of the visualization snapshot.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Size  int    `json:"size"`
	Color string `json:"color"`
}

// GraphEdge is a co-occurrence edge of the visualization snapshot.
// Strength counts distinct documents mentioning both endpoints.
type GraphEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Strength int    `json:"strength"`
	Type     string `json:"type"`
}

// GraphSnapshot is a bounded {nodes, edges} view of the knowledge graph.
type GraphSnapshot struct {
	Nodes       []GraphNode `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
	TotalNodes  int         `json:"total_nodes"`
	TotalEdges  int         `json:"total_edges"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// SearchFilters restricts similarity search to documents matching any of
// the given tags and file types, and to chunks scoring at least MinScore.
type SearchFilters struct {
	Tags      []string   `json:"tags,omitempty"`
	FileTypes []FileType `json:"file_types,omitempty"`
	MinScore  float64    `json:"min_relevance_score,omitempty"`
}

// ScoredChunk pairs a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// QuerySource traces part of an answer back to a chunk. This is the
// explainability contract of the orchestrator.
type QuerySource struct {
	DocumentID     string  `json:"document_id"`
	DocumentTitle  string  `json:"document_title"`
	ChunkContent   string  `json:"chunk_content"`
	RelevanceScore float64 `json:"relevance_score"`
	ChunkIndex     int     `json:"chunk_index"`
}

// QueryResponse is the complete answer object returned for every query,
// including degraded and empty-corpus outcomes.
type QueryResponse struct {
	Answer           string        `json:"answer"`
	Sources          []QuerySource `json:"sources"`
	Confidence       float64       `json:"confidence"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	FromCache        bool          `json:"from_cache"`
}

// Health reports a component's reachability and degradation state.
type Health struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)
