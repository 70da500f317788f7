package pagesource

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrael-soju/snappy/model"
)

func TestSliceSource(t *testing.T) {
	ctx := context.Background()
	src := NewSliceSource([]model.PageRecord{
		{DocumentID: "doc", PageIndex: 1},
		{DocumentID: "doc", PageIndex: 2},
	})

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.PageIndex)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.PageIndex)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Reset())
	again, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.PageIndex)
}

func TestSliceSourceHonorsContext(t *testing.T) {
	src := NewSliceSource([]model.PageRecord{{PageIndex: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubmissionValidate(t *testing.T) {
	sub := Submission{Files: []File{
		{TempPath: "/tmp/a", OriginalFilename: "report.pdf", SizeBytes: 100},
		{TempPath: "/tmp/b", OriginalFilename: "scan.png", SizeBytes: 5000},
	}}

	assert.NoError(t, sub.Validate(Constraints{}))
	assert.NoError(t, sub.Validate(Constraints{
		MaxFileSizeBytes: 10_000,
		AllowedTypes:     []string{".pdf", ".png"},
	}))

	err := sub.Validate(Constraints{MaxFileSizeBytes: 1000})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "scan.png", verr.Filename)

	err = sub.Validate(Constraints{AllowedTypes: []string{".png"}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "report.pdf", verr.Filename)
}

func TestSubmissionTempPaths(t *testing.T) {
	sub := Submission{Files: []File{
		{TempPath: "/tmp/a"}, {TempPath: "/tmp/b"},
	}}
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, sub.TempPaths())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "page1.png")
	p2 := filepath.Join(dir, "page2.png")
	writePNG(t, p1, 640, 480)
	writePNG(t, p2, 320, 240)

	src := NewFileSource([]PageFile{
		{Path: p1, DocumentID: "doc", Filename: "doc.pdf", PageIndex: 1},
		{Path: p2, DocumentID: "doc", Filename: "doc.pdf", PageIndex: 2},
	})
	src.SetTotal(2)
	defer src.Close()

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 640, first.WidthPx)
	assert.Equal(t, 480, first.HeightPx)
	assert.Equal(t, 2, first.TotalPages)
	assert.NotEmpty(t, first.Image)
	assert.Equal(t, int64(len(first.Image)), first.FileSizeBytes)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 320, second.WidthPx)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource([]PageFile{
		{Path: filepath.Join(t.TempDir(), "missing.png"), DocumentID: "doc", PageIndex: 1},
	})
	_, err := src.Next(context.Background())
	assert.Error(t, err)
}
