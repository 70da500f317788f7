package model

import (
	"fmt"
	"time"
)

// Vector space names used across the index schema, ingestion and retrieval.
const (
	SpaceOriginal   = "original"
	SpaceRow        = "row"
	SpaceColumn     = "column"
	SpaceCompressed = "compressed"
)

// PageRecord is a single scanned page produced by a page source.
// The Image bytes are transient: they are consumed once by the ingestion
// pipeline and never persisted as part of the record itself.
type PageRecord struct {
	DocumentID    string
	Filename      string
	PageIndex     int // 1-based
	TotalPages    int
	WidthPx       int
	HeightPx      int
	FileSizeBytes int64
	Image         []byte
}

// EmbeddingResult is the raw multi-vector output of the embedding backend
// for one page, together with the token-boundary metadata needed for pooling.
//
// Invariant: PatchLen == NPatchesX * NPatchesY.
type EmbeddingResult struct {
	// Vectors is the ordered sequence of token vectors ("original").
	Vectors [][]float32
	// PatchStart is the offset of the first image-patch token.
	PatchStart int
	// PatchLen is the number of image-patch tokens.
	PatchLen int
	// NPatchesX and NPatchesY are the patch grid dimensions reported by
	// the embedding backend.
	NPatchesX int
	NPatchesY int
}

// PooledVectors holds the two pooled projections of a multi-vector.
//
// Row has length prefix + NPatchesY + postfix; Column has length
// prefix + NPatchesX + postfix. Prefix and postfix tokens are copied
// unchanged from the original sequence.
type PooledVectors struct {
	Row    [][]float32
	Column [][]float32
}

// Payload is the metadata persisted with every indexed point.
type Payload struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	PageIndex  int       `json:"page_index"` // 1-based
	TotalPages int       `json:"total_pages"`
	ImageKey   string    `json:"image_key,omitempty"`
	OCRKey     string    `json:"ocr_key,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Label renders the human-readable result label for this payload.
func (p Payload) Label() string {
	return fmt.Sprintf("%s - page %d of %d", p.Filename, p.PageIndex, p.TotalPages)
}

// Point is the unit of upsert into the vector index.
//
// ID is unique per page and stable across re-ingestion of the same page, so
// re-upserting overwrites rather than duplicates.
type Point struct {
	ID string
	// Multi holds the multi-vector spaces (original, row, column).
	Multi map[string][][]float32
	// Single holds the single-vector spaces (compressed).
	Single  map[string][]float32
	Payload Payload
}

// ScoredPoint is a query match returned by the vector index.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// SearchResult is a single entry of a retrieval response, ordered by
// descending score.
type SearchResult struct {
	Payload Payload `json:"payload"`
	Label   string  `json:"label"`
	Score   float32 `json:"score"`
}

// Batch is an ordered slice of pages and the unit of pipeline concurrency.
//
// Start is the global offset of the first page in the batch. Per-page global
// indices derive from it, so downstream correctness never depends on the
// order in which batches complete.
type Batch struct {
	Start int
	Pages []PageRecord
}

// GlobalIndex returns the global page counter value for the i-th page of
// the batch.
func (b Batch) GlobalIndex(i int) int {
	return b.Start + i
}
