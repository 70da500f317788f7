package snappy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrael-soju/snappy/analytics"
	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/jobs"
	"github.com/athrael-soju/snappy/model"
	"github.com/athrael-soju/snappy/objectstore"
	"github.com/athrael-soju/snappy/pagesource"
	"github.com/athrael-soju/snappy/pipeline"
	"github.com/athrael-soju/snappy/vectorindex"
)

// pipelineSlowConfig forces one page per batch so a cancel lands between
// batches.
func pipelineSlowConfig() pipeline.Config {
	return pipeline.Config{BatchSize: 1}
}

func newEngine(t *testing.T, optFns ...Option) (*Snappy, *embedder.Mock) {
	t.Helper()
	emb := embedder.NewMock()
	base := []Option{
		WithObjectStore(objectstore.NewMemory()),
		WithAnalyticsStore(analytics.NewMemory()),
	}
	s, err := New(emb, vectorindex.NewMemory(), append(base, optFns...)...)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, emb
}

func docPages(docID string, n int) []model.PageRecord {
	pages := make([]model.PageRecord, n)
	for i := range pages {
		pages[i] = model.PageRecord{
			DocumentID: docID,
			Filename:   docID + ".pdf",
			PageIndex:  i + 1,
			TotalPages: n,
			WidthPx:    64,
			HeightPx:   64,
			Image:      []byte(docID + "-page-" + string(rune('0'+i+1))),
		}
	}
	return pages
}

func ingestAndWait(t *testing.T, s *Snappy, docID string, n int) string {
	t.Helper()
	ctx := context.Background()

	jobID, err := s.Ingest(ctx, IngestRequest{
		Source:     pagesource.NewSliceSource(docPages(docID, n)),
		TotalPages: n,
		Filenames:  []string{docID + ".pdf"},
	})
	require.NoError(t, err)

	for ev := range s.WatchJob(ctx, jobID) {
		if ev.Status.Terminal() {
			require.Equal(t, jobs.StatusCompleted, ev.Status)
		}
	}
	return jobID
}

func TestIngestAndSearch(t *testing.T) {
	s, _ := newEngine(t)
	ingestAndWait(t, s, "invoice", 2)
	ingestAndWait(t, s, "report", 2)

	results, err := s.Search(context.Background(), "invoice-page-1", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "invoice", results[0].Payload.DocumentID)
	assert.Equal(t, 1, results[0].Payload.PageIndex)
	assert.Equal(t, "invoice.pdf - page 1 of 2", results[0].Label)
}

func TestSearchInDocument(t *testing.T) {
	s, _ := newEngine(t)
	ingestAndWait(t, s, "invoice", 2)
	ingestAndWait(t, s, "report", 2)

	results, err := s.SearchInDocument(context.Background(), "invoice-page-1", 10, "report")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "report", r.Payload.DocumentID)
	}
}

func TestSearchInvalidK(t *testing.T) {
	s, _ := newEngine(t)
	_, err := s.Search(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestSearchEmbeddingUnavailable(t *testing.T) {
	s, emb := newEngine(t)
	ingestAndWait(t, s, "invoice", 1)

	emb.FailEmbed = embedder.ErrUnavailable
	_, err := s.Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestJobLifecycle(t *testing.T) {
	s, _ := newEngine(t)
	jobID := ingestAndWait(t, s, "invoice", 3)

	snap, err := s.Job(jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, snap.Status)
	assert.Equal(t, "Processed 3 pages", snap.Message)
	assert.Equal(t, 100, snap.Percent())

	_, err = s.Job("no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.False(t, s.CancelJob(jobID))
	assert.Empty(t, s.ActiveJobs())
}

func TestIngestValidatesSubmission(t *testing.T) {
	s, _ := newEngine(t, WithConstraints(pagesource.Constraints{
		AllowedTypes: []string{".pdf"},
	}))

	_, err := s.Ingest(context.Background(), IngestRequest{
		Source: pagesource.NewSliceSource(nil),
		Submission: &pagesource.Submission{Files: []pagesource.File{
			{TempPath: "/tmp/x", OriginalFilename: "photo.gif"},
		}},
	})
	var verr *pagesource.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRemoveDocument(t *testing.T) {
	s, _ := newEngine(t)
	ingestAndWait(t, s, "invoice", 2)
	ingestAndWait(t, s, "report", 1)

	report := s.RemoveDocument(context.Background(), "invoice")
	assert.True(t, report.OK())

	results, err := s.Search(context.Background(), "invoice-page-1", 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "invoice", r.Payload.DocumentID)
	}
}

func TestClearIndex(t *testing.T) {
	s, _ := newEngine(t)
	ingestAndWait(t, s, "invoice", 2)

	require.NoError(t, s.ClearIndex(context.Background()))

	results, err := s.Search(context.Background(), "invoice-page-1", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCompressedSearch(t *testing.T) {
	s, _ := newEngine(t, WithCompression(64))
	ingestAndWait(t, s, "invoice", 2)
	ingestAndWait(t, s, "report", 2)

	results, err := s.Search(context.Background(), "report-page-2", 4)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "report", results[0].Payload.DocumentID)
}

func TestCancelJob(t *testing.T) {
	s, emb := newEngine(t, WithPipelineConfig(pipelineSlowConfig()))
	emb.EmbedDelay = 50 * time.Millisecond

	ctx := context.Background()
	jobID, err := s.Ingest(ctx, IngestRequest{
		Source:     pagesource.NewSliceSource(docPages("big", 8)),
		TotalPages: 8,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := s.Job(jobID)
		return err == nil && snap.Status == jobs.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, s.CancelJob(jobID))

	require.Eventually(t, func() bool {
		snap, err := s.Job(jobID)
		return err == nil && snap.Status == jobs.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	// Cancelled is final, even though the pipeline noticed mid-run.
	snap, err := s.Job(jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, snap.Status)
}

func TestMetricsRecorded(t *testing.T) {
	mc := &BasicMetricsCollector{}
	s, _ := newEngine(t, WithMetricsCollector(mc))
	ingestAndWait(t, s, "invoice", 3)

	_, err := s.Search(context.Background(), "invoice-page-1", 2)
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.EmbedCount)
	assert.Equal(t, int64(3), stats.EmbedImages)
	assert.Zero(t, stats.EmbedErrors)
	assert.Equal(t, int64(1), stats.UpsertCount)
	assert.Equal(t, int64(3), stats.UpsertPoints)
	assert.Equal(t, int64(1), stats.SearchCount)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := newEngine(t)
	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, err := s.Search(ctx, "anything", 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.Ingest(ctx, IngestRequest{Source: pagesource.NewSliceSource(nil)})
	assert.ErrorIs(t, err, ErrClosed)
}
