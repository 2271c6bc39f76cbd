package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/membank-ai/backend/internal/util"
	"github.com/membank-ai/backend/pkg/common"
)

const (
	defaultEncoder   = "cl100k_base"
	defaultMaxTokens = 400
)

// Chunker splits document content into token-bounded chunks, the unit
// of embedding and retrieval. Chunks break on sentence boundaries; a
// single sentence longer than the token budget becomes its own chunk.
type Chunker struct {
	encoder   string
	maxTokens int
}

// ChunkerParams configures a Chunker. Zero values select the defaults
// (cl100k_base, 400 tokens).
type ChunkerParams struct {
	Encoder   string
	MaxTokens int
}

// NewChunker creates a Chunker with the given parameters.
func NewChunker(params ChunkerParams) *Chunker {
	encoder := params.Encoder
	if encoder == "" {
		encoder = defaultEncoder
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Chunker{
		encoder:   encoder,
		maxTokens: maxTokens,
	}
}

// Split chunks the document's content. Chunk ids are minted here; Index
// preserves the order of appearance in the document. Empty content
// yields no chunks and no error.
func (c *Chunker) Split(doc common.Document) ([]common.Chunk, error) {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, nil
	}

	enc, err := tiktoken.GetEncoding(c.encoder)
	if err != nil {
		return nil, err
	}

	sentences := util.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []common.Chunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, common.Chunk{
			ID:         util.NewID(),
			DocumentID: doc.ID,
			Content:    strings.Join(current, " "),
			Index:      len(chunks),
		})
		current = nil
		currentTokens = 0
	}

	for _, sentence := range sentences {
		tokens := len(enc.Encode(sentence, nil, nil))
		if len(current) > 0 && currentTokens+tokens > c.maxTokens {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	flush()

	return chunks, nil
}
