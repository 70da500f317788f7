package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows(doc string, n int) []PageRow {
	now := time.Now().UTC().Truncate(time.Second)
	rows := make([]PageRow, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, PageRow{
			DocumentID:    doc,
			Filename:      doc + ".pdf",
			PageIndex:     i,
			TotalPages:    n,
			WidthPx:       800,
			HeightPx:      1100,
			FileSizeBytes: 1024,
			IndexedAt:     now,
		})
	}
	return rows
}

func TestSQLiteRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordPages(ctx, testRows("alpha", 3)))
	require.NoError(t, s.RecordPages(ctx, testRows("beta", 2)))

	pages, err := s.DocumentPages(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageIndex)
		assert.Equal(t, "alpha.pdf", p.Filename)
	}
}

func TestSQLiteRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	defer s.Close()

	rows := testRows("alpha", 2)
	require.NoError(t, s.RecordPages(ctx, rows))
	require.NoError(t, s.RecordPages(ctx, rows))

	pages, err := s.DocumentPages(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestSQLiteDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordPages(ctx, testRows("alpha", 2)))
	require.NoError(t, s.RecordPages(ctx, testRows("beta", 1)))
	require.NoError(t, s.DeleteDocument(ctx, "alpha"))

	pages, err := s.DocumentPages(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, pages)

	pages, err = s.DocumentPages(ctx, "beta")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}
