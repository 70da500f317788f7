package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Store using SQLite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		document_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		total_pages INTEGER NOT NULL,
		width_px INTEGER NOT NULL,
		height_px INTEGER NOT NULL,
		file_size_bytes INTEGER NOT NULL,
		indexed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (document_id, page_index)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_filename ON pages(filename);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordPages implements Store.
func (s *SQLite) RecordPages(ctx context.Context, rows []PageRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO pages
		(document_id, filename, page_index, total_pages, width_px, height_px, file_size_bytes, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.DocumentID, r.Filename, r.PageIndex, r.TotalPages,
			r.WidthPx, r.HeightPx, r.FileSizeBytes, r.IndexedAt,
		); err != nil {
			return fmt.Errorf("insert page %s/%d: %w", r.DocumentID, r.PageIndex, err)
		}
	}
	return tx.Commit()
}

// DeleteDocument implements Store.
func (s *SQLite) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE document_id = ?`, documentID)
	return err
}

// DocumentPages implements Store.
func (s *SQLite) DocumentPages(ctx context.Context, documentID string) ([]PageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, filename, page_index, total_pages, width_px, height_px, file_size_bytes, indexed_at
		FROM pages WHERE document_id = ? ORDER BY page_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PageRow
	for rows.Next() {
		var r PageRow
		if err := rows.Scan(&r.DocumentID, &r.Filename, &r.PageIndex, &r.TotalPages,
			&r.WidthPx, &r.HeightPx, &r.FileSizeBytes, &r.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
