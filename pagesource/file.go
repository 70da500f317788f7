package pagesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/athrael-soju/snappy/model"
)

// PageFile is one pre-rasterized page image on disk.
type PageFile struct {
	// Path is the local path of the rendered page image.
	Path string
	// DocumentID identifies the source document.
	DocumentID string
	// Filename is the original document filename.
	Filename string
	// PageIndex is 1-based within the document.
	PageIndex int
	// TotalPages is the page count of the document, 0 if not yet known.
	TotalPages int
}

// FileSource reads pre-rasterized page images from local files, one page
// per Next call. Pixel dimensions are decoded from the image header.
type FileSource struct {
	files []PageFile
	pos   int
	total int
}

// NewFileSource creates a FileSource. The files must be in document order.
func NewFileSource(files []PageFile) *FileSource {
	return &FileSource{files: files}
}

// SetTotal overrides TotalPages for all remaining pages, for callers that
// learn the page count only after rasterization finishes.
func (s *FileSource) SetTotal(total int) {
	s.total = total
}

// Next implements Source.
func (s *FileSource) Next(ctx context.Context) (model.PageRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PageRecord{}, err
	}
	if s.pos >= len(s.files) {
		return model.PageRecord{}, io.EOF
	}
	f := s.files[s.pos]
	s.pos++

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return model.PageRecord{}, fmt.Errorf("read page image %q: %w", f.Path, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.PageRecord{}, fmt.Errorf("decode page image %q: %w", f.Path, err)
	}

	total := f.TotalPages
	if s.total > 0 {
		total = s.total
	}
	return model.PageRecord{
		DocumentID:    f.DocumentID,
		Filename:      f.Filename,
		PageIndex:     f.PageIndex,
		TotalPages:    total,
		WidthPx:       cfg.Width,
		HeightPx:      cfg.Height,
		FileSizeBytes: int64(len(data)),
		Image:         data,
	}, nil
}

// Reset implements Source.
func (s *FileSource) Reset() error {
	s.pos = 0
	return nil
}

// Close implements Source. The underlying files are left in place; temp
// file removal is the cleanup coordinator's job.
func (s *FileSource) Close() error { return nil }
