// Package ingest drives a document through chunking, knowledge
// extraction, and the two retrieval sinks. The graph and the vector
// index are updated concurrently and independently, so one failing sink
// never blocks the other.
package ingest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/membank-ai/backend/pkg/chunker"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/extract"
	"github.com/membank-ai/backend/pkg/graph"
	"github.com/membank-ai/backend/pkg/logger"
	"github.com/membank-ai/backend/pkg/vector"
)

// Pipeline fans a document out to the knowledge graph and the vector
// index.
type Pipeline struct {
	chunker   *chunker.Chunker
	extractor extract.Extractor
	graph     graph.KnowledgeStore
	index     vector.Index
}

func NewPipeline(ch *chunker.Chunker, extractor extract.Extractor, store graph.KnowledgeStore, index vector.Index) *Pipeline {
	return &Pipeline{
		chunker:   ch,
		extractor: extractor,
		graph:     store,
		index:     index,
	}
}

// IngestDocument processes one document end to end. Extraction failures
// degrade to tag-based knowledge; a sink failure is reported after the
// other sink has finished.
func (p *Pipeline) IngestDocument(ctx context.Context, doc common.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("ingest: document without id")
	}

	chunks, err := p.chunker.Split(doc)
	if err != nil {
		return fmt.Errorf("ingest: chunk %s: %w", doc.ID, err)
	}

	extraction, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		logger.Warn("[Ingest] Extraction failed, storing tag-based knowledge", "doc", doc.ID, "err", err)
		extraction, _ = extract.TagExtractor{}.Extract(ctx, doc)
	}

	var group errgroup.Group
	group.Go(func() error {
		if !p.graph.StoreKnowledge(ctx, extraction) {
			return fmt.Errorf("ingest: graph rejected knowledge for %s", doc.ID)
		}
		return nil
	})
	group.Go(func() error {
		if err := p.index.AddDocument(ctx, doc, chunks); err != nil {
			return fmt.Errorf("ingest: index %s: %w", doc.ID, err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("[Ingest] Document processed", "doc", doc.ID, "chunks", len(chunks),
		"entities", len(extraction.Entities), "concepts", len(extraction.Concepts))
	return nil
}

// DeleteDocument cascades removal through both sinks. Graph deletion is
// soft; only index errors propagate.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("ingest: delete without document id")
	}

	p.graph.DeleteDocument(ctx, documentID)
	if err := p.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("ingest: delete %s: %w", documentID, err)
	}

	logger.Info("[Ingest] Document deleted", "doc", documentID)
	return nil
}
