package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/membank-ai/backend/internal/util"
	"github.com/membank-ai/backend/pkg/ai"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/logger"
)

// maxContentRunes bounds how much document text is sent to the model.
const maxContentRunes = 10000

// maxRetries bounds attempts at structured model extraction before the
// tag fallback takes over.
const maxRetries = 2

var defaultEntityTypes = []string{
	"PERSON", "ORG", "GPE", "PRODUCT", "EVENT", "WORK_OF_ART", "LAW", "LANGUAGE",
}

// Extractor produces an Extraction for a document. Implementations may
// fail; callers degrade to FromTags in that case.
type Extractor interface {
	Extract(ctx context.Context, doc common.Document) (common.Extraction, error)
}

// NormalizeName case-normalizes an entity or concept name so store
// identity keys hold regardless of extractor casing.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FromTags builds the degraded extraction for a document from its own
// tags: entities=tags, concepts=tags, no relationships.
func FromTags(doc common.Document) common.Extraction {
	entities := make([]common.Entity, 0, len(doc.Tags))
	concepts := make([]common.Concept, 0, len(doc.Tags))
	for _, tag := range doc.Tags {
		name := NormalizeName(tag)
		if name == "" {
			continue
		}
		entities = append(entities, common.Entity{
			Name:       name,
			Type:       "TOPIC",
			Confidence: 0.5,
		})
		concepts = append(concepts, common.Concept{
			Name:      name,
			Type:      common.ConceptTypeTopic,
			Frequency: 1,
		})
	}
	return common.Extraction{
		DocumentID:    doc.ID,
		Entities:      entities,
		Relationships: []common.Relationship{},
		Concepts:      concepts,
		ProcessedAt:   time.Now().UTC(),
	}
}

// TagExtractor is the fallback extractor used when no model is
// configured. It never fails.
type TagExtractor struct{}

func (TagExtractor) Extract(_ context.Context, doc common.Document) (common.Extraction, error) {
	return FromTags(doc), nil
}

type extractEntity struct {
	Name       string  `json:"name" jsonschema_description:"Name of the entity, lower case"`
	Type       string  `json:"type" jsonschema_description:"One of the provided entity types"`
	Confidence float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0.0 and 1.0"`
}

type extractRelationship struct {
	Subject    string  `json:"subject" jsonschema_description:"Name of the subject entity, as identified in step 1"`
	Predicate  string  `json:"predicate" jsonschema_description:"The verb linking subject and object, lower case"`
	Object     string  `json:"object" jsonschema_description:"Name of the object entity, as identified in step 1"`
	Confidence float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0.0 and 1.0"`
	Sentence   string  `json:"sentence" jsonschema_description:"The sentence the relationship was found in, verbatim"`
}

type extractConcept struct {
	Name      string `json:"name" jsonschema_description:"Concept phrase, lower case, at most four words"`
	Type      string `json:"type" jsonschema_description:"Either topic or concept"`
	Frequency int    `json:"frequency" jsonschema_description:"How often the concept occurs in the document"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the document"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Verb-linked entity pairs identified in the document"`
	Concepts      []extractConcept      `json:"concepts" jsonschema_description:"Key concepts and topics the document discusses"`
}

// ModelExtractor extracts entities, relationships and concepts from
// document content through a generation model with structured output.
// On model failure it degrades to the tag-based extraction and logs a
// warning instead of returning an error.
type ModelExtractor struct {
	client      ai.Generator
	entityTypes []string
}

// NewModelExtractor creates a ModelExtractor. entityTypes may be nil to
// use the default set.
func NewModelExtractor(client ai.Generator, entityTypes []string) *ModelExtractor {
	types := entityTypes
	if len(types) == 0 {
		types = defaultEntityTypes
	}
	return &ModelExtractor{
		client:      client,
		entityTypes: types,
	}
}

func (e *ModelExtractor) Extract(ctx context.Context, doc common.Document) (common.Extraction, error) {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return FromTags(doc), nil
	}
	if runes := []rune(content); len(runes) > maxContentRunes {
		content = string(runes[:maxContentRunes])
	}

	systemPrompt := fmt.Sprintf(ai.ExtractPrompt, strings.Join(e.entityTypes, ","))

	var res extractResponse
	err := util.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return e.client.GenerateCompletionWithFormat(
			ctx,
			"extract_knowledge",
			"Extract entities, relationships and concepts from a provided document.",
			content,
			&res,
			ai.WithSystemPrompts(systemPrompt),
		)
	})
	if err != nil {
		logger.Warn("[Extract] Model extraction failed, degrading to tags", "document_id", doc.ID, "err", err)
		return FromTags(doc), nil
	}

	return e.assemble(doc, res), nil
}

func (e *ModelExtractor) assemble(doc common.Document, res extractResponse) common.Extraction {
	extraction := common.Extraction{
		DocumentID:    doc.ID,
		Entities:      make([]common.Entity, 0, len(res.Entities)),
		Relationships: make([]common.Relationship, 0, len(res.Relationships)),
		Concepts:      make([]common.Concept, 0, len(res.Concepts)+len(doc.Tags)),
		ProcessedAt:   time.Now().UTC(),
	}

	seenEntities := make(map[string]struct{})
	for _, ent := range res.Entities {
		name := NormalizeName(ent.Name)
		if len(name) < 2 {
			continue
		}
		key := name + "|" + ent.Type
		if _, dup := seenEntities[key]; dup {
			continue
		}
		seenEntities[key] = struct{}{}
		extraction.Entities = append(extraction.Entities, common.Entity{
			Name:       name,
			Type:       ent.Type,
			Confidence: clampConfidence(ent.Confidence),
		})
	}

	entityNames := make(map[string]struct{}, len(extraction.Entities))
	for _, ent := range extraction.Entities {
		entityNames[ent.Name] = struct{}{}
	}
	for _, rel := range res.Relationships {
		subject := NormalizeName(rel.Subject)
		object := NormalizeName(rel.Object)
		if _, ok := entityNames[subject]; !ok {
			continue
		}
		if _, ok := entityNames[object]; !ok {
			continue
		}
		extraction.Relationships = append(extraction.Relationships, common.Relationship{
			Subject:    subject,
			Predicate:  NormalizeName(rel.Predicate),
			Object:     object,
			Confidence: clampConfidence(rel.Confidence),
			Sentence:   strings.TrimSpace(rel.Sentence),
		})
	}

	// Document tags are always concepts, with model concepts on top.
	seenConcepts := make(map[string]struct{})
	for _, tag := range doc.Tags {
		name := NormalizeName(tag)
		if name == "" {
			continue
		}
		seenConcepts[name] = struct{}{}
		extraction.Concepts = append(extraction.Concepts, common.Concept{
			Name:      name,
			Type:      common.ConceptTypeTopic,
			Frequency: 1,
		})
	}
	for _, concept := range res.Concepts {
		name := NormalizeName(concept.Name)
		if len(name) < 3 {
			continue
		}
		if _, dup := seenConcepts[name]; dup {
			continue
		}
		seenConcepts[name] = struct{}{}
		conceptType := concept.Type
		if conceptType != common.ConceptTypeTopic {
			conceptType = common.ConceptTypeConcept
		}
		frequency := concept.Frequency
		if frequency < 1 {
			frequency = 1
		}
		extraction.Concepts = append(extraction.Concepts, common.Concept{
			Name:      name,
			Type:      conceptType,
			Frequency: frequency,
		})
	}

	return extraction
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
