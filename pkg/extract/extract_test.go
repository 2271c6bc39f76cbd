package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/membank-ai/backend/pkg/ai"
	"github.com/membank-ai/backend/pkg/common"
)

func TestFromTags(t *testing.T) {
	doc := common.Document{
		ID:   "d1",
		Tags: []string{"Python", " testing ", ""},
	}

	got := FromTags(doc)

	if got.DocumentID != "d1" {
		t.Fatalf("unexpected document id: %q", got.DocumentID)
	}
	if len(got.Entities) != 2 || len(got.Concepts) != 2 {
		t.Fatalf("expected 2 entities and 2 concepts, got %d and %d", len(got.Entities), len(got.Concepts))
	}
	if got.Entities[0].Name != "python" || got.Entities[1].Name != "testing" {
		t.Fatalf("expected normalized names, got %+v", got.Entities)
	}
	if got.Entities[0].Type != "TOPIC" || got.Entities[0].Confidence != 0.5 {
		t.Fatalf("unexpected fallback entity: %+v", got.Entities[0])
	}
	if got.Concepts[0].Type != common.ConceptTypeTopic || got.Concepts[0].Frequency != 1 {
		t.Fatalf("unexpected fallback concept: %+v", got.Concepts[0])
	}
	if len(got.Relationships) != 0 {
		t.Fatalf("expected no relationships, got %d", len(got.Relationships))
	}
}

type stubGenerator struct {
	fill func(out any)
	err  error
}

func (s *stubGenerator) GenerateCompletion(_ context.Context, _ string, _ ...ai.GenerateOption) (string, error) {
	return "", s.err
}

func (s *stubGenerator) GenerateCompletionWithFormat(_ context.Context, _, _, _ string, out any, _ ...ai.GenerateOption) error {
	if s.err != nil {
		return s.err
	}
	s.fill(out)
	return nil
}

func TestModelExtract(t *testing.T) {
	doc := common.Document{
		ID:      "d1",
		Content: "Alice works at Acme. Acme builds rockets.",
		Tags:    []string{"rockets"},
	}

	gen := &stubGenerator{
		fill: func(out any) {
			res := out.(*extractResponse)
			*res = extractResponse{
				Entities: []extractEntity{
					{Name: "Alice", Type: "PERSON", Confidence: 0.9},
					{Name: "ACME", Type: "ORG", Confidence: 1.5},
					{Name: "alice", Type: "PERSON", Confidence: 0.4}, // duplicate key
				},
				Relationships: []extractRelationship{
					{Subject: "Alice", Predicate: "Works", Object: "Acme", Confidence: 0.8, Sentence: "Alice works at Acme."},
					{Subject: "alice", Predicate: "likes", Object: "unknown", Confidence: 0.8},
				},
				Concepts: []extractConcept{
					{Name: "Rocketry", Type: "concept", Frequency: 3},
					{Name: "rockets", Type: "topic", Frequency: 2}, // duplicate of tag
				},
			}
		},
	}

	extraction, err := NewModelExtractor(gen, nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(extraction.Entities) != 2 {
		t.Fatalf("expected deduped entities, got %+v", extraction.Entities)
	}
	if extraction.Entities[1].Confidence != 1.0 {
		t.Fatalf("expected clamped confidence, got %v", extraction.Entities[1].Confidence)
	}
	if len(extraction.Relationships) != 1 {
		t.Fatalf("expected relationship with unknown object dropped, got %+v", extraction.Relationships)
	}
	if extraction.Relationships[0].Subject != "alice" || extraction.Relationships[0].Object != "acme" {
		t.Fatalf("expected normalized relationship endpoints, got %+v", extraction.Relationships[0])
	}

	// tag concept first, model concept appended, duplicates dropped
	if len(extraction.Concepts) != 2 {
		t.Fatalf("expected 2 concepts, got %+v", extraction.Concepts)
	}
	if extraction.Concepts[0].Name != "rockets" || extraction.Concepts[1].Name != "rocketry" {
		t.Fatalf("unexpected concepts: %+v", extraction.Concepts)
	}
}

func TestModelExtractDegradesToTags(t *testing.T) {
	doc := common.Document{
		ID:      "d1",
		Content: "Some content.",
		Tags:    []string{"history"},
	}

	gen := &stubGenerator{err: errors.New("model unavailable")}

	extraction, err := NewModelExtractor(gen, nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(extraction.Concepts) != 1 || extraction.Concepts[0].Name != "history" {
		t.Fatalf("expected tag fallback, got %+v", extraction.Concepts)
	}
}
