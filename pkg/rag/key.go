package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/membank-ai/backend/pkg/common"
)

// cacheKey derives the response-cache key from the normalized question,
// canonical filters, topK, and the sorted ids of the indexed corpus.
// Any document addition or removal therefore invalidates every cached
// answer, keeping the cache consistent without explicit eviction.
func (e *Engine) cacheKey(ctx context.Context, req QueryRequest) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(req.Text)),
		canonicalFilters(req.Filters),
		strconv.Itoa(req.TopK),
		strings.Join(e.index.DocumentIDs(ctx), ","),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// canonicalFilters renders filters order-independently so logically
// equal filter sets hash to the same key.
func canonicalFilters(filters *common.SearchFilters) string {
	if filters == nil {
		return ""
	}

	tags := append([]string(nil), filters.Tags...)
	sort.Strings(tags)

	fileTypes := make([]string, 0, len(filters.FileTypes))
	for _, fileType := range filters.FileTypes {
		fileTypes = append(fileTypes, string(fileType))
	}
	sort.Strings(fileTypes)

	return strings.Join([]string{
		strings.Join(tags, ","),
		strings.Join(fileTypes, ","),
		strconv.FormatFloat(filters.MinScore, 'f', -1, 64),
	}, ";")
}
