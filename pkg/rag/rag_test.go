package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/membank-ai/backend/pkg/ai"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/vector"
)

type stubEmbedder struct {
	dim       int
	vectors   map[string][]float32
	err       error
	failFirst int
	calls     int
}

func (s *stubEmbedder) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	s.calls++
	if s.calls <= s.failFirst {
		return nil, errors.New("transient embedding failure")
	}
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[string(input)]; ok {
		return v, nil
	}
	return make([]float32, s.dim), nil
}

type stubGenerator struct {
	answer string
	err    error
	calls  int
	prompt string
	opts   []ai.GenerateOption
}

func (s *stubGenerator) GenerateCompletion(_ context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	s.calls++
	s.prompt = prompt
	s.opts = opts
	return s.answer, s.err
}

func (s *stubGenerator) GenerateCompletionWithFormat(_ context.Context, _, _, _ string, _ any, _ ...ai.GenerateOption) error {
	return errors.New("not used")
}

func seedDocument(t *testing.T, idx vector.Index, docID, title string, contents ...string) {
	t.Helper()
	chunks := make([]common.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = common.Chunk{
			ID:        docID + "-chunk-" + string(rune('a'+i)),
			Content:   content,
			Index:     i,
			Embedding: []float32{1, 0, 0},
		}
	}
	err := idx.AddDocument(context.Background(), common.Document{
		ID:         docID,
		Title:      title,
		FileType:   common.FileTypeText,
		UploadedAt: time.Now().UTC(),
	}, chunks)
	if err != nil {
		t.Fatalf("AddDocument %s: %v", docID, err)
	}
}

func newTestEngine(t *testing.T, generator *stubGenerator) (*Engine, *stubEmbedder, vector.Index) {
	t.Helper()
	embedder := &stubEmbedder{
		dim: 3,
		vectors: map[string][]float32{
			"what is go concurrency": {1, 0, 0},
		},
	}
	idx := vector.NewMemoryIndex(embedder, 3)
	return NewEngine(embedder, generator, idx, 3), embedder, idx
}

func TestQueryValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubGenerator{answer: "ok"})

	tests := []struct {
		name string
		req  QueryRequest
	}{
		{"empty text", QueryRequest{Text: ""}},
		{"text too long", QueryRequest{Text: strings.Repeat("q", 2001)}},
		{"topK too large", QueryRequest{Text: "valid", TopK: 51}},
		{"negative topK", QueryRequest{Text: "valid", TopK: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.Query(context.Background(), tt.req); err == nil {
				t.Error("invalid request accepted")
			}
		})
	}
}

func TestQueryEmptyCorpus(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubGenerator{answer: "should not be called"})

	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", resp.Confidence)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(resp.Sources))
	}
	if !strings.Contains(resp.Answer, "couldn't find any relevant information") {
		t.Errorf("answer = %q, want canned empty-corpus message", resp.Answer)
	}
}

func TestQueryAnswersWithSources(t *testing.T) {
	generator := &stubGenerator{answer: "Goroutines are lightweight threads."}
	engine, _, idx := newTestEngine(t, generator)
	seedDocument(t, idx, "doc1", "Go Notes",
		"Goroutines are lightweight threads managed by the runtime.",
		"Channels coordinate goroutines.")

	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Answer != generator.answer {
		t.Errorf("answer = %q, want model answer", resp.Answer)
	}
	if resp.FromCache {
		t.Error("first query marked as cached")
	}
	if len(resp.Sources) == 0 {
		t.Fatal("no sources returned")
	}
	if resp.Sources[0].DocumentTitle != "Go Notes" {
		t.Errorf("source title = %q, want Go Notes", resp.Sources[0].DocumentTitle)
	}
	if resp.Confidence <= 0 || resp.Confidence > 1 {
		t.Errorf("confidence = %f, want (0, 1]", resp.Confidence)
	}
	if !strings.Contains(generator.prompt, "[Source 1]") {
		t.Error("prompt missing numbered source block")
	}
	if resp.ProcessingTimeMs < 0 {
		t.Errorf("processing time = %d", resp.ProcessingTimeMs)
	}
}

func TestQueryCacheRoundtrip(t *testing.T) {
	generator := &stubGenerator{answer: "cached answer"}
	engine, _, idx := newTestEngine(t, generator)
	seedDocument(t, idx, "doc1", "Go Notes", "Goroutines are lightweight threads.")

	first, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := engine.Query(context.Background(), QueryRequest{Text: "  What Is GO Concurrency  "})
	if err != nil {
		t.Fatalf("second query: %v", err)
	}

	if !second.FromCache {
		t.Error("normalized repeat query missed the cache")
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer = %q, want %q", second.Answer, first.Answer)
	}
	if generator.calls != 1 {
		t.Errorf("generator called %d times, want 1", generator.calls)
	}

	// Corpus change invalidates the key.
	seedDocument(t, idx, "doc2", "More Notes", "Channels coordinate goroutines.")
	third, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("third query: %v", err)
	}
	if third.FromCache {
		t.Error("query after corpus change served stale cache entry")
	}
	if generator.calls != 2 {
		t.Errorf("generator called %d times, want 2", generator.calls)
	}
}

func TestQueryCacheExpiry(t *testing.T) {
	generator := &stubGenerator{answer: "answer"}
	embedder := &stubEmbedder{dim: 3}
	idx := vector.NewMemoryIndex(embedder, 3)
	engine := NewEngine(embedder, generator, idx, 3, WithCacheTTL(time.Nanosecond))
	seedDocument(t, idx, "doc1", "Go Notes", "Goroutines are lightweight threads.")

	if _, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"}); err != nil {
		t.Fatalf("first query: %v", err)
	}
	time.Sleep(time.Millisecond)
	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if resp.FromCache {
		t.Error("expired entry served from cache")
	}
	if generator.calls != 2 {
		t.Errorf("generator called %d times, want 2", generator.calls)
	}
}

func TestQueryDistinctFiltersMissCache(t *testing.T) {
	generator := &stubGenerator{answer: "answer"}
	engine, _, idx := newTestEngine(t, generator)
	seedDocument(t, idx, "doc1", "Go Notes", "Goroutines are lightweight threads.")

	if _, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	resp, err := engine.Query(context.Background(), QueryRequest{
		Text:    "what is go concurrency",
		Filters: &common.SearchFilters{MinScore: 0.5},
	})
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if resp.FromCache {
		t.Error("different filters shared a cache entry")
	}
}

func TestQueryGenerationFailureFallsBackExtractive(t *testing.T) {
	generator := &stubGenerator{err: errors.New("model timeout")}
	engine, _, idx := newTestEngine(t, generator)
	seedDocument(t, idx, "doc1", "Go Notes",
		"Concurrency in Go is built on goroutines. Unrelated filler sentence here.")

	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.HasPrefix(resp.Answer, "Based on your documents:") {
		t.Errorf("answer = %q, want extractive fallback", resp.Answer)
	}
	if !strings.Contains(resp.Answer, "goroutines") {
		t.Errorf("fallback answer %q lost the term-matching sentence", resp.Answer)
	}
	if len(resp.Sources) == 0 {
		t.Error("fallback response lost its sources")
	}
	if resp.Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0 from retrieval scores", resp.Confidence)
	}
}

func TestQueryEmbedFailureStillAnswers(t *testing.T) {
	generator := &stubGenerator{answer: "weak answer"}
	embedder := &stubEmbedder{dim: 3, err: errors.New("embedder down")}
	idx := vector.NewMemoryIndex(&stubEmbedder{dim: 3}, 3)
	engine := NewEngine(embedder, generator, idx, 3)
	seedDocument(t, idx, "doc1", "Go Notes", "Goroutines are lightweight threads.")

	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Answer != "weak answer" {
		t.Errorf("answer = %q, want generation over zero-vector retrieval", resp.Answer)
	}
}

func TestQuerySourceCapAndPreview(t *testing.T) {
	generator := &stubGenerator{answer: "answer"}
	engine, _, idx := newTestEngine(t, generator)

	long := strings.Repeat("x", 500)
	contents := make([]string, 8)
	for i := range contents {
		contents[i] = long
	}
	seedDocument(t, idx, "doc1", "Big Doc", contents...)

	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency", TopK: 8})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Sources) > 5 {
		t.Errorf("sources = %d, want at most 5", len(resp.Sources))
	}
	for _, source := range resp.Sources {
		if got := len([]rune(source.ChunkContent)); got > 203 {
			t.Errorf("preview length = %d runes, want bounded", got)
		}
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"scaled mean", []float64{0.5, 0.5}, 0.6},
		{"capped at one", []float64{0.95, 0.95}, 1},
		{"negative mean floors at zero", []float64{-0.5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retrieved := make([]common.ScoredChunk, len(tt.scores))
			for i, score := range tt.scores {
				retrieved[i] = common.ScoredChunk{Score: score}
			}
			got := confidence(retrieved)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestQueryEmbedRetriesTransientFailure(t *testing.T) {
	generator := &stubGenerator{answer: "Goroutines are cheap."}
	engine, embedder, idx := newTestEngine(t, generator)
	embedder.failFirst = 1
	seedDocument(t, idx, "doc-1", "Go Notes", "Goroutines multiplex onto OS threads.")

	resp, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("embedder called %d times, want 2", embedder.calls)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(resp.Sources))
	}
	if resp.Answer != "Goroutines are cheap." {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestQueryGenerationOptions(t *testing.T) {
	generator := &stubGenerator{answer: "ok"}
	embedder := &stubEmbedder{
		dim:     3,
		vectors: map[string][]float32{"what is go concurrency": {1, 0, 0}},
	}
	idx := vector.NewMemoryIndex(embedder, 3)
	engine := NewEngine(embedder, generator, idx, 3, WithModel("answer-model"))
	seedDocument(t, idx, "doc-1", "Go Notes", "Goroutines multiplex onto OS threads.")

	if _, err := engine.Query(context.Background(), QueryRequest{Text: "what is go concurrency"}); err != nil {
		t.Fatalf("Query: %v", err)
	}

	var opts ai.GenerateOptions
	for _, o := range generator.opts {
		o(&opts)
	}
	if opts.Model != "answer-model" {
		t.Errorf("model = %q, want answer-model", opts.Model)
	}
	if opts.Temperature != answerTemperature {
		t.Errorf("temperature = %v, want %v", opts.Temperature, answerTemperature)
	}
}
