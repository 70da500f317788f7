// Package pagesource streams page records into the ingestion pipeline.
//
// Rasterization happens outside this module; a Source hands over
// pre-rendered page images one at a time so the pipeline never holds a
// whole document in memory.
package pagesource

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/athrael-soju/snappy/model"
)

// Source yields page records in document order.
//
// Next returns io.EOF after the last page. Reset rewinds to the first page
// so a source can be consumed more than once. Close releases underlying
// resources; the source is unusable afterwards.
type Source interface {
	Next(ctx context.Context) (model.PageRecord, error)
	Reset() error
	Close() error
}

// Constraints bound what a submission may contain. A zero field disables
// that check.
type Constraints struct {
	MaxFileSizeBytes int64
	// AllowedTypes lists acceptable file extensions, lowercase with the
	// leading dot (".png", ".pdf").
	AllowedTypes []string
}

// ValidationError reports a submission file rejected by Constraints.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("submission file %q rejected: %s", e.Filename, e.Reason)
}

// File is one uploaded file of a submission: where its bytes landed on
// local disk and the name the client gave it.
type File struct {
	TempPath         string
	OriginalFilename string
	SizeBytes        int64
}

// Submission is an ordered set of uploaded files bound for one ingestion
// job.
type Submission struct {
	Files []File
}

// Validate checks every file against the constraints. The first offending
// file fails the whole submission.
func (s Submission) Validate(c Constraints) error {
	for _, f := range s.Files {
		if c.MaxFileSizeBytes > 0 && f.SizeBytes > c.MaxFileSizeBytes {
			return &ValidationError{
				Filename: f.OriginalFilename,
				Reason:   fmt.Sprintf("size %d exceeds limit %d", f.SizeBytes, c.MaxFileSizeBytes),
			}
		}
		if len(c.AllowedTypes) > 0 {
			ext := strings.ToLower(filepath.Ext(f.OriginalFilename))
			ok := false
			for _, allowed := range c.AllowedTypes {
				if ext == allowed {
					ok = true
					break
				}
			}
			if !ok {
				return &ValidationError{
					Filename: f.OriginalFilename,
					Reason:   fmt.Sprintf("type %q is not accepted", ext),
				}
			}
		}
	}
	return nil
}

// TempPaths returns the temp paths of all files, for cleanup.
func (s Submission) TempPaths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.TempPath
	}
	return paths
}

// SliceSource serves pages from memory.
type SliceSource struct {
	pages []model.PageRecord
	pos   int
}

// NewSliceSource creates a SliceSource over the given pages.
func NewSliceSource(pages []model.PageRecord) *SliceSource {
	return &SliceSource{pages: pages}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (model.PageRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PageRecord{}, err
	}
	if s.pos >= len(s.pages) {
		return model.PageRecord{}, io.EOF
	}
	page := s.pages[s.pos]
	s.pos++
	return page, nil
}

// Reset implements Source.
func (s *SliceSource) Reset() error {
	s.pos = 0
	return nil
}

// Close implements Source.
func (s *SliceSource) Close() error { return nil }

// Len reports the total page count.
func (s *SliceSource) Len() int { return len(s.pages) }
