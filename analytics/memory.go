package analytics

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store implementation for testing.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]map[int]PageRow // document_id -> page_index -> row

	// FailRecord, when set, is returned by RecordPages.
	FailRecord error
	// FailDelete, when set, is returned by DeleteDocument.
	FailDelete error
}

// NewMemory creates a new in-memory analytics store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]map[int]PageRow)}
}

// RecordPages implements Store.
func (m *Memory) RecordPages(_ context.Context, rows []PageRow) error {
	if m.FailRecord != nil {
		return m.FailRecord
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		pages, ok := m.rows[r.DocumentID]
		if !ok {
			pages = make(map[int]PageRow)
			m.rows[r.DocumentID] = pages
		}
		pages[r.PageIndex] = r
	}
	return nil
}

// DeleteDocument implements Store.
func (m *Memory) DeleteDocument(_ context.Context, documentID string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, documentID)
	return nil
}

// DocumentPages implements Store.
func (m *Memory) DocumentPages(_ context.Context, documentID string) ([]PageRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pages := m.rows[documentID]
	out := make([]PageRow, 0, len(pages))
	for _, r := range pages {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
