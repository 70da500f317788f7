package snappy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/athrael-soju/snappy/cleanup"
	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/fde"
	"github.com/athrael-soju/snappy/jobs"
	"github.com/athrael-soju/snappy/model"
	"github.com/athrael-soju/snappy/pagesource"
	"github.com/athrael-soju/snappy/pipeline"
	"github.com/athrael-soju/snappy/pooling"
	"github.com/athrael-soju/snappy/retrieval"
	"github.com/athrael-soju/snappy/schema"
	"github.com/athrael-soju/snappy/vectorindex"
)

// Snappy is the visual document retrieval engine: multi-vector page
// embeddings ingested through a streaming pipeline and searched with
// two-stage pooled-prefetch / MaxSim-rerank queries.
type Snappy struct {
	emb     embedder.Client
	index   vectorindex.Index
	tracker *jobs.Tracker
	manager *schema.Manager
	ingest  *pipeline.Pipeline
	search  *retrieval.Engine
	cleaner *cleanup.Coordinator
	remover *cleanup.Coordinator
	opts    options

	closed atomic.Bool
}

// IngestRequest describes one ingestion job.
type IngestRequest struct {
	// Source yields the pre-rasterized pages.
	Source pagesource.Source
	// TotalPages sizes the job's progress reporting; 0 if unknown.
	TotalPages int
	// Filenames are the original filenames, for job listings.
	Filenames []string
	// TempPaths are local files to remove when the job fails or is
	// cancelled.
	TempPaths []string
	// Submission, when non-nil, is validated against the configured
	// constraints before the job starts.
	Submission *pagesource.Submission
}

// New creates a Snappy engine over the given embedding backend and vector
// index.
func New(emb embedder.Client, index vectorindex.Index, optFns ...Option) (*Snappy, error) {
	o := applyOptions(optFns)

	var encoder *fde.Encoder
	if o.schemaCfg.Compressed {
		info, err := emb.Info(context.Background())
		if err != nil {
			return nil, translateError(err)
		}
		fdeOpts := []fde.Option{fde.WithOutputDim(o.schemaCfg.CompressedDim)}
		if o.compressionSeed != 0 {
			fdeOpts = append(fdeOpts, fde.WithSeed(o.compressionSeed))
		}
		if o.compressionBuckets != 0 {
			fdeOpts = append(fdeOpts, fde.WithHyperplanes(o.compressionBuckets))
		}
		encoder = fde.New(info.Dim, fdeOpts...)
	}

	tracker := jobs.NewTracker()
	cleaner := cleanup.NewCoordinator(emb, index, o.objects, o.analytics)

	s := &Snappy{
		emb:     emb,
		index:   index,
		tracker: tracker,
		manager: schema.NewManager(index, emb, o.schemaCfg),
		cleaner: cleaner,
		// Document removal must not restart the embedding backend; that
		// step only exists to abort in-flight work of a dead job.
		remover: cleanup.NewCoordinator(nil, index, o.objects, o.analytics),
		opts:    o,
	}
	instrumented := instrumentedEmbedder{Client: emb, metrics: o.metrics, logger: o.logger}
	s.ingest = pipeline.New(
		instrumented, pooling.New(), index, o.objects, o.analytics,
		encoder, tracker, cleaner, o.logger.Logger, o.pipelineCfg,
	)
	s.search = retrieval.New(instrumented, index, encoder, o.cache, o.logger.Logger, o.searchCfg)
	return s, nil
}

// EnsureSchema verifies the collection or creates it, discovering the
// embedding dimension from the backend.
func (s *Snappy) EnsureSchema(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return translateError(s.manager.Ensure(ctx))
}

// ClearIndex drops and recreates the collection with an identical schema.
// Object store and analytics contents are untouched; use RemoveDocument
// for cross-store deletion.
func (s *Snappy) ClearIndex(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return translateError(s.manager.Clear(ctx))
}

// Ingest starts an ingestion job and returns its id immediately. The
// pipeline runs in the background; watch progress with WatchJob or poll
// with Job.
//
// The job keeps running when ctx is cancelled; stop it with CancelJob.
func (s *Snappy) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if req.Submission != nil {
		if err := req.Submission.Validate(s.opts.constraints); err != nil {
			return "", err
		}
	}

	jobID := s.tracker.Create(req.TotalPages, req.Filenames)
	finish := s.tracker.Attach(jobID)

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer finish()
		started := time.Now()
		res := s.ingest.Run(runCtx, jobID, req.Source, req.TempPaths)
		s.opts.metrics.RecordUpsert(res.PagesProcessed, time.Since(started), res.Err)
		s.opts.logger.WithJob(jobID).LogUpsert(runCtx, res.PagesProcessed, res.Err)
		if res.Outcome != pipeline.OutcomeCompleted {
			s.opts.logger.LogCleanup(runCtx, nil, res.Cleanup.OK())
		}
	}()

	s.opts.logger.WithJob(jobID).Info("ingestion started", "total_pages", req.TotalPages)
	return jobID, nil
}

// Search answers a text query with the top-k matching pages, best first.
func (s *Snappy) Search(ctx context.Context, text string, k int) ([]model.SearchResult, error) {
	return s.searchFiltered(ctx, text, k, vectorindex.Filter{})
}

// SearchInDocument restricts Search to a single document.
func (s *Snappy) SearchInDocument(ctx context.Context, text string, k int, documentID string) ([]model.SearchResult, error) {
	return s.searchFiltered(ctx, text, k, vectorindex.Filter{Field: "document_id", Value: documentID})
}

func (s *Snappy) searchFiltered(ctx context.Context, text string, k int, filter vectorindex.Filter) ([]model.SearchResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	started := time.Now()
	results, err := s.search.Search(ctx, text, k, filter)
	s.opts.metrics.RecordSearch(k, time.Since(started), err)
	s.opts.logger.LogSearch(ctx, k, len(results), err)
	return results, translateError(err)
}

// Job returns a snapshot of the job's current state.
func (s *Snappy) Job(id string) (jobs.Snapshot, error) {
	snap, ok := s.tracker.Get(id)
	if !ok {
		return jobs.Snapshot{}, translateError(jobs.ErrNotFound)
	}
	return snap, nil
}

// WatchJob streams status events for a job until it reaches a terminal
// state or ctx is cancelled. An unknown id yields a single not-found event.
func (s *Snappy) WatchJob(ctx context.Context, id string) <-chan jobs.Event {
	return s.tracker.Watch(ctx, id, jobs.DefaultWatchInterval)
}

// CancelJob requests cooperative cancellation. It reports false when the
// job is unknown or already terminal. The pipeline observes the request at
// its next checkpoint; the job may briefly keep running.
func (s *Snappy) CancelJob(id string) bool {
	return s.tracker.Cancel(id)
}

// ActiveJobs lists jobs that have not reached a terminal state.
func (s *Snappy) ActiveJobs() []jobs.Snapshot {
	return s.tracker.ActiveJobs()
}

// RemoveDocument deletes every trace of a document: its index points,
// stored media and analytics rows.
func (s *Snappy) RemoveDocument(ctx context.Context, documentID string) cleanup.Report {
	started := time.Now()
	report := s.remover.Run(ctx, []string{documentID}, nil)
	s.opts.metrics.RecordCleanup(len(report.Failed()), time.Since(started))
	s.opts.logger.WithDocument(documentID).LogCleanup(ctx, []string{documentID}, report.OK())
	return report
}

// Close waits for running jobs, then releases the analytics store and
// query cache. Close is idempotent; operations after Close return
// ErrClosed.
func (s *Snappy) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.tracker.Join(ctx)
	if s.opts.cache != nil {
		if cerr := s.opts.cache.Close(); err == nil {
			err = cerr
		}
	}
	if s.opts.analytics != nil {
		if aerr := s.opts.analytics.Close(); err == nil {
			err = aerr
		}
	}
	return err
}
