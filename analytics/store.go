// Package analytics defines the boundary to the analytics/SQL store that
// records indexed pages, and provides SQLite and in-memory backends.
package analytics

import (
	"context"
	"time"
)

// PageRow is one indexed page as recorded in the analytics store.
type PageRow struct {
	DocumentID    string
	Filename      string
	PageIndex     int // 1-based
	TotalPages    int
	WidthPx       int
	HeightPx      int
	FileSizeBytes int64
	IndexedAt     time.Time
}

// Store is the analytics store boundary.
type Store interface {
	// RecordPages inserts or replaces rows for indexed pages.
	RecordPages(ctx context.Context, rows []PageRow) error

	// DeleteDocument removes every row of a document.
	DeleteDocument(ctx context.Context, documentID string) error

	// DocumentPages returns a document's rows ordered by page index.
	DocumentPages(ctx context.Context, documentID string) ([]PageRow, error)

	// Close releases the underlying resources.
	Close() error
}
