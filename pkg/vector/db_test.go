package vector

import (
	"context"
	"errors"
	"strings"
	"testing"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/membank-ai/backend/pkg/common"
)

// recordingConn captures the last statement so the query shape can be
// asserted without a database.
type recordingConn struct {
	lastSQL  string
	lastArgs []any
}

func (c *recordingConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.lastSQL, c.lastArgs = sql, args
	return pgconn.CommandTag{}, nil
}

func (c *recordingConn) Query(_ context.Context, sql string, args ...any) (pgxv5.Rows, error) {
	c.lastSQL, c.lastArgs = sql, args
	return emptyRows{}, nil
}

func (c *recordingConn) QueryRow(_ context.Context, sql string, args ...any) pgxv5.Row {
	c.lastSQL, c.lastArgs = sql, args
	return emptyRow{}
}

func (c *recordingConn) Begin(_ context.Context) (pgxv5.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(_ ...any) error                          { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgxv5.Conn                            { return nil }

type emptyRow struct{}

func (emptyRow) Scan(_ ...any) error { return nil }

func TestDBIndexSearchWithoutFiltersAdmitsNegativeScores(t *testing.T) {
	conn := &recordingConn{}
	idx := NewDBIndexWithConnection(conn, &stubEmbedder{dim: 3}, 3)

	idx.SearchSimilar(context.Background(), []float32{1, 0, 0}, nil, 5)

	if len(conn.lastArgs) != 5 {
		t.Fatalf("expected 5 bound arguments, got %d", len(conn.lastArgs))
	}
	bound, ok := conn.lastArgs[3].(float64)
	if !ok {
		t.Fatalf("expected float64 score bound, got %T", conn.lastArgs[3])
	}
	if bound != -2 {
		t.Errorf("nil filters bound score to %v, want -2", bound)
	}
}

func TestDBIndexSearchAppliesMinScore(t *testing.T) {
	conn := &recordingConn{}
	idx := NewDBIndexWithConnection(conn, &stubEmbedder{dim: 3}, 3)

	idx.SearchSimilar(context.Background(), []float32{1, 0, 0}, &common.SearchFilters{MinScore: 0.25}, 5)

	bound, ok := conn.lastArgs[3].(float64)
	if !ok {
		t.Fatalf("expected float64 score bound, got %T", conn.lastArgs[3])
	}
	if bound != 0.25 {
		t.Errorf("bound score %v, want 0.25", bound)
	}
}

func TestDBIndexSearchTieBreakFollowsIngestOrder(t *testing.T) {
	conn := &recordingConn{}
	idx := NewDBIndexWithConnection(conn, &stubEmbedder{dim: 3}, 3)

	idx.SearchSimilar(context.Background(), []float32{1, 0, 0}, nil, 5)

	if !strings.Contains(conn.lastSQL, "d.uploaded_at ASC, c.chunk_index ASC") {
		t.Errorf("score ties must break on upload time and chunk index, got:\n%s", conn.lastSQL)
	}
}
