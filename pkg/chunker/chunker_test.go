package chunker

import (
	"strings"
	"testing"

	"github.com/membank-ai/backend/pkg/common"
)

func TestSplit(t *testing.T) {
	c := NewChunker(ChunkerParams{MaxTokens: 20})

	t.Run("empty content", func(t *testing.T) {
		chunks, err := c.Split(common.Document{ID: "d1"})
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(chunks) != 0 {
			t.Fatalf("expected no chunks, got %d", len(chunks))
		}
	})

	t.Run("short content stays one chunk", func(t *testing.T) {
		chunks, err := c.Split(common.Document{ID: "d1", Content: "Hello world. Second sentence."})
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("expected 1 chunk, got %d", len(chunks))
		}
		if chunks[0].DocumentID != "d1" {
			t.Fatalf("unexpected document id: %q", chunks[0].DocumentID)
		}
		if chunks[0].Content != "Hello world. Second sentence." {
			t.Fatalf("unexpected content: %q", chunks[0].Content)
		}
	})

	t.Run("long content splits with ordered indices", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 30; i++ {
			b.WriteString("This is a reasonably long filler sentence for chunking. ")
		}
		chunks, err := c.Split(common.Document{ID: "d2", Content: b.String()})
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(chunks) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(chunks))
		}
		seen := make(map[string]struct{})
		for i, chunk := range chunks {
			if chunk.Index != i {
				t.Fatalf("chunk %d has index %d", i, chunk.Index)
			}
			if _, dup := seen[chunk.ID]; dup {
				t.Fatalf("duplicate chunk id %q", chunk.ID)
			}
			seen[chunk.ID] = struct{}{}
		}
	})
}
