// Package rag orchestrates retrieval-augmented answering: embed the
// question, retrieve similar chunks, assemble a grounded prompt, and
// generate an answer with its sources. Model failures degrade to an
// extractive answer rather than an error.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/membank-ai/backend/internal/util"
	"github.com/membank-ai/backend/pkg/ai"
	"github.com/membank-ai/backend/pkg/cache"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/logger"
	"github.com/membank-ai/backend/pkg/vector"
)

const (
	defaultTopK     = 5
	maxSources      = 5
	previewRunes    = 200
	maxContextRunes = 8000

	embedAttempts     = 2
	answerTemperature = 0.2

	defaultEmbedTimeout    = 30 * time.Second
	defaultGenerateTimeout = 90 * time.Second

	emptyCorpusAnswer = "I couldn't find any relevant information in your documents to answer this question. Try uploading more documents or rephrasing your question."
)

// QueryRequest is the validated input of a retrieval query.
type QueryRequest struct {
	Text    string                `json:"query" validate:"required,min=1,max=2000"`
	Filters *common.SearchFilters `json:"filters,omitempty"`
	TopK    int                   `json:"top_k" validate:"omitempty,min=1,max=50"`
}

// Engine runs the staged query pipeline against an index and a model.
type Engine struct {
	embedder  ai.Embedder
	generator ai.Generator
	index     vector.Index
	dim       int

	model     string
	responses *cache.Cache[string, common.QueryResponse]
	validate  *validator.Validate

	embedTimeout    time.Duration
	generateTimeout time.Duration
}

type EngineOption func(*Engine)

// WithCacheTTL overrides the response cache TTL.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.responses = cache.New[string, common.QueryResponse](ttl)
	}
}

// WithModel overrides the generator's configured answer model.
func WithModel(model string) EngineOption {
	return func(e *Engine) {
		e.model = model
	}
}

// WithTimeouts overrides the per-stage model deadlines.
func WithTimeouts(embed, generate time.Duration) EngineOption {
	return func(e *Engine) {
		e.embedTimeout = embed
		e.generateTimeout = generate
	}
}

// NewEngine creates an engine over the given collaborators. dim is the
// embedding dimensionality used for the zero-vector fallback.
func NewEngine(embedder ai.Embedder, generator ai.Generator, index vector.Index, dim int, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder:        embedder,
		generator:       generator,
		index:           index,
		dim:             dim,
		responses:       cache.New[string, common.QueryResponse](cache.DefaultTTL),
		validate:        validator.New(),
		embedTimeout:    defaultEmbedTimeout,
		generateTimeout: defaultGenerateTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Query answers the request from the indexed corpus. The only error
// path is request validation; every collaborator failure degrades into
// the response itself.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (common.QueryResponse, error) {
	if err := e.validate.Struct(req); err != nil {
		return common.QueryResponse{}, fmt.Errorf("rag: invalid query: %w", err)
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}

	started := time.Now()
	key := e.cacheKey(ctx, req)

	if cached, ok := e.responses.Get(key); ok {
		cached.FromCache = true
		cached.ProcessingTimeMs = time.Since(started).Milliseconds()
		return cached, nil
	}

	embedding := e.embedQuery(ctx, req.Text)
	retrieved := e.index.SearchSimilar(ctx, embedding, req.Filters, req.TopK)

	var response common.QueryResponse
	if len(retrieved) == 0 {
		response = common.QueryResponse{
			Answer:     emptyCorpusAnswer,
			Sources:    []common.QuerySource{},
			Confidence: 0,
		}
	} else {
		response = common.QueryResponse{
			Answer:     e.generateAnswer(ctx, req.Text, retrieved),
			Sources:    e.buildSources(ctx, retrieved),
			Confidence: confidence(retrieved),
		}
	}

	e.responses.Put(key, response)
	response.ProcessingTimeMs = time.Since(started).Milliseconds()
	return response, nil
}

// embedQuery embeds the question under a deadline. On failure the query
// proceeds with a zero vector, which still yields deterministic
// (if weak) retrieval instead of an error.
func (e *Engine) embedQuery(ctx context.Context, text string) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	embedding, err := util.RetryWithContext(embedCtx, embedAttempts, func(ctx context.Context) ([]float32, error) {
		return e.embedder.GenerateEmbedding(ctx, []byte(text))
	})
	if err != nil || len(embedding) != e.dim {
		logger.Warn("[RAG] Query embedding failed, using zero vector", "err", err)
		return make([]float32, e.dim)
	}
	return embedding
}

// generateAnswer prompts the model with numbered source blocks. A model
// failure or timeout falls back to extractive sentences from the top
// chunks.
func (e *Engine) generateAnswer(ctx context.Context, question string, retrieved []common.ScoredChunk) string {
	blocks := make([]string, 0, len(retrieved))
	for i, scored := range retrieved {
		blocks = append(blocks, fmt.Sprintf("[Source %d] %s", i+1, scored.Chunk.Content))
	}
	contextBlock := util.TruncateRunes(strings.Join(blocks, "\n\n"), maxContextRunes)

	generateCtx, cancel := context.WithTimeout(ctx, e.generateTimeout)
	defer cancel()

	generateOpts := []ai.GenerateOption{ai.WithTemperature(answerTemperature)}
	if e.model != "" {
		generateOpts = append(generateOpts, ai.WithModel(e.model))
	}

	answer, err := e.generator.GenerateCompletion(generateCtx, fmt.Sprintf(ai.AnswerPrompt, contextBlock, question), generateOpts...)
	if err != nil {
		logger.Warn("[RAG] Generation failed, falling back to extractive answer", "err", err)
		return extractiveAnswer(question, retrieved)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return extractiveAnswer(question, retrieved)
	}
	return answer
}

// extractiveAnswer picks sentences from the top chunks that share terms
// with the question. With no overlap at all, it returns an excerpt of
// the best chunk so the response is never empty.
func extractiveAnswer(question string, retrieved []common.ScoredChunk) string {
	terms := util.QueryTerms(question)

	var picked []string
	for _, scored := range retrieved {
		for _, sentence := range util.SplitSentences(scored.Chunk.Content) {
			if len(picked) >= 3 {
				break
			}
			for term := range terms {
				if strings.Contains(strings.ToLower(sentence), term) {
					picked = append(picked, strings.TrimSpace(sentence))
					break
				}
			}
		}
		if len(picked) >= 3 {
			break
		}
	}

	if len(picked) == 0 {
		return "Based on your documents: " + util.TruncateRunes(retrieved[0].Chunk.Content, 300)
	}
	return "Based on your documents: " + strings.Join(picked, " ")
}

// buildSources maps the top chunks to explainable source entries with
// bounded previews.
func (e *Engine) buildSources(ctx context.Context, retrieved []common.ScoredChunk) []common.QuerySource {
	titles := e.documentTitles(ctx)

	if len(retrieved) > maxSources {
		retrieved = retrieved[:maxSources]
	}
	sources := make([]common.QuerySource, 0, len(retrieved))
	for _, scored := range retrieved {
		title, ok := titles[scored.Chunk.DocumentID]
		if !ok {
			title = scored.Chunk.DocumentID
		}
		sources = append(sources, common.QuerySource{
			DocumentID:     scored.Chunk.DocumentID,
			DocumentTitle:  title,
			ChunkContent:   util.TruncateRunes(scored.Chunk.Content, previewRunes),
			RelevanceScore: scored.Score,
			ChunkIndex:     scored.Chunk.Index,
		})
	}
	return sources
}

func (e *Engine) documentTitles(ctx context.Context) map[string]string {
	titles := make(map[string]string)
	for _, doc := range e.index.GetDocuments(ctx, 0, -1) {
		titles[doc.ID] = doc.Title
	}
	return titles
}

// confidence is the capped, scaled mean of the retrieval scores.
func confidence(retrieved []common.ScoredChunk) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	var sum float64
	for _, scored := range retrieved {
		sum += scored.Score
	}
	mean := sum / float64(len(retrieved))
	scaled := mean * 1.2
	if scaled > 1 {
		return 1
	}
	if scaled < 0 {
		return 0
	}
	return scaled
}
