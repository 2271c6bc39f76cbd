package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/membank-ai/backend/internal/ingest"
	"github.com/membank-ai/backend/pkg/common"
	"github.com/membank-ai/backend/pkg/logger"
)

// IngestJobMsg is the payload of ingest_queue messages.
type IngestJobMsg struct {
	Message  string          `json:"message"`
	Document common.Document `json:"document"`
}

// DeleteJobMsg is the payload of delete_queue messages.
type DeleteJobMsg struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
}

// PublishIngestJob enqueues a document for ingestion.
func PublishIngestJob(ch BrokerChannel, doc common.Document) error {
	body, err := json.Marshal(IngestJobMsg{
		Message:  "Ingest document",
		Document: doc,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ingest job: %w", err)
	}
	return PublishFIFO(ch, "ingest_queue", body)
}

// PublishDeleteJob enqueues a document deletion.
func PublishDeleteJob(ch BrokerChannel, documentID string) error {
	body, err := json.Marshal(DeleteJobMsg{
		Message:    "Delete document",
		DocumentID: documentID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delete job: %w", err)
	}
	return PublishFIFO(ch, "delete_queue", body)
}

// ProcessIngestMessage handles one ingest_queue delivery. A returned
// error sends the message into the retry loop.
func ProcessIngestMessage(
	ctx context.Context,
	pipeline *ingest.Pipeline,
	msg string,
) error {
	data := new(IngestJobMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("failed to unmarshal ingest message: %w", err)
	}
	if data.Document.ID == "" {
		return fmt.Errorf("ingest message without document id")
	}

	logger.Info("[Queue] Ingesting document", "doc", data.Document.ID, "title", data.Document.Title)
	return pipeline.IngestDocument(ctx, data.Document)
}

// ProcessDeleteMessage handles one delete_queue delivery.
func ProcessDeleteMessage(
	ctx context.Context,
	pipeline *ingest.Pipeline,
	msg string,
) error {
	data := new(DeleteJobMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("failed to unmarshal delete message: %w", err)
	}
	if data.DocumentID == "" {
		return fmt.Errorf("delete message without document id")
	}

	logger.Info("[Queue] Deleting document", "doc", data.DocumentID)
	return pipeline.DeleteDocument(ctx, data.DocumentID)
}
