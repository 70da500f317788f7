// Package pipeline drives streaming document ingestion: pages flow from a
// source through embedding, pooling, media storage and point building into
// the vector index, batch by batch.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/athrael-soju/snappy/analytics"
	"github.com/athrael-soju/snappy/cleanup"
	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/fde"
	"github.com/athrael-soju/snappy/internal/backoff"
	"github.com/athrael-soju/snappy/jobs"
	"github.com/athrael-soju/snappy/model"
	"github.com/athrael-soju/snappy/objectstore"
	"github.com/athrael-soju/snappy/pagesource"
	"github.com/athrael-soju/snappy/pooling"
	"github.com/athrael-soju/snappy/vectorindex"
)

const (
	// DefaultBatchSize is the page count per batch.
	DefaultBatchSize = 4
	// DefaultMaxConcurrentBatches bounds in-flight batches in pipelined
	// mode. Two keeps the embedding backend busy while the previous
	// batch uploads.
	DefaultMaxConcurrentBatches = 2

	metadataJSONName = "metadata.json"

	uploadAttempts = 3
	uploadBackoff  = 200 * time.Millisecond
)

// idNamespace seeds deterministic point IDs. Re-ingesting the same page
// produces the same ID, making ingestion idempotent at the index.
var idNamespace = uuid.MustParse("6f1c35b0-5aa7-4f83-9dc9-8e2f5b3f7a41")

// Outcome classifies how a pipeline run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// PartialUploadFailure records a page whose media could not be stored and
// that was therefore excluded from the point set.
type PartialUploadFailure struct {
	DocumentID string
	PageIndex  int
	Err        error
}

// Result is the final state of a pipeline run.
type Result struct {
	Outcome Outcome
	// PagesProcessed counts pages upserted into the index.
	PagesProcessed int
	// Err is the fatal error for OutcomeFailed.
	Err error
	// PartialFailures lists pages skipped due to upload failures when
	// fail-fast is off.
	PartialFailures []PartialUploadFailure
	// Cleanup is the cleanup report for failed or cancelled runs.
	Cleanup cleanup.Report

	docs map[string]struct{}
}

// noteDocs records the documents a batch touched, so cleanup after a
// failure or cancel covers every document with traces in the stores.
func (r *Result) noteDocs(batch model.Batch) {
	if r.docs == nil {
		r.docs = make(map[string]struct{})
	}
	for _, page := range batch.Pages {
		r.docs[page.DocumentID] = struct{}{}
	}
}

func (r Result) documentIDs() []string {
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Config tunes a Pipeline.
type Config struct {
	// BatchSize is the page count per batch.
	BatchSize int
	// MaxConcurrentBatches bounds in-flight batches in pipelined mode.
	MaxConcurrentBatches int
	// Pipelined overlaps embedding/storage of one batch with the upsert
	// of another. Sequential and pipelined runs index identical content.
	Pipelined bool
	// FailFast aborts a batch on the first unrecoverable upload error
	// instead of excluding the page and continuing.
	FailFast bool
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	return c
}

// Pipeline ingests page streams into the vector index and its side stores.
type Pipeline struct {
	emb       embedder.Client
	pooler    *pooling.Pooler
	index     vectorindex.Index
	objects   objectstore.Store
	analytics analytics.Store
	encoder   *fde.Encoder // nil disables the compressed space
	tracker   *jobs.Tracker
	cleaner   *cleanup.Coordinator
	logger    *slog.Logger
	cfg       Config
}

// New creates a Pipeline. encoder may be nil when the compressed space is
// disabled; cleaner may be nil to skip cleanup on failure.
func New(
	emb embedder.Client,
	pooler *pooling.Pooler,
	index vectorindex.Index,
	objects objectstore.Store,
	an analytics.Store,
	encoder *fde.Encoder,
	tracker *jobs.Tracker,
	cleaner *cleanup.Coordinator,
	logger *slog.Logger,
	cfg Config,
) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		emb:       emb,
		pooler:    pooler,
		index:     index,
		objects:   objects,
		analytics: an,
		encoder:   encoder,
		tracker:   tracker,
		cleaner:   cleaner,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// batchOutput is a fully prepared batch awaiting upsert.
type batchOutput struct {
	seq       int
	batch     model.Batch
	points    []model.Point
	rows      []analytics.PageRow
	partial   []PartialUploadFailure
	err       error
	cancelled bool
}

// Run drains the source and indexes every page. It owns the job's status
// transitions: Start on entry, progress updates per batch, Complete or Fail
// on exit. A cancelled job is never marked failed.
//
// The source is closed on every exit path. On failure or cancellation the
// cleanup coordinator removes the partial traces of the touched documents.
func (p *Pipeline) Run(ctx context.Context, jobID string, source pagesource.Source, tempPaths []string) Result {
	defer source.Close()

	p.tracker.Start(jobID)
	log := p.logger.With("job_id", jobID)

	var res Result
	if p.cfg.Pipelined {
		res = p.runPipelined(ctx, jobID, source, log)
	} else {
		res = p.runSequential(ctx, jobID, source, log)
	}

	switch res.Outcome {
	case OutcomeCompleted:
		p.tracker.Complete(jobID, fmt.Sprintf("Processed %d pages", res.PagesProcessed))
		log.Info("ingestion completed", "pages", res.PagesProcessed, "partial_failures", len(res.PartialFailures))
	case OutcomeCancelled:
		// Cancellation can also arrive through ctx; Cancel is a no-op when
		// the tracker already did it, and settles the status otherwise.
		p.tracker.Cancel(jobID)
		res.Cleanup = p.runCleanup(ctx, res, tempPaths, log)
		log.Info("ingestion cancelled", "pages", res.PagesProcessed)
	case OutcomeFailed:
		p.tracker.Fail(jobID, res.Err)
		res.Cleanup = p.runCleanup(ctx, res, tempPaths, log)
		log.Error("ingestion failed", "error", res.Err)
	}
	return res
}

func (p *Pipeline) runSequential(ctx context.Context, jobID string, source pagesource.Source, log *slog.Logger) Result {
	var res Result
	seq, start := 0, 0
	for {
		if p.tracker.IsCancelled(jobID) || ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			return res
		}

		batch, err := p.nextBatch(ctx, source, start)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}
		if len(batch.Pages) == 0 {
			p.settleTotal(jobID, start)
			res.Outcome = OutcomeCompleted
			return res
		}
		start += len(batch.Pages)

		out := p.processBatch(ctx, jobID, seq, batch)
		seq++
		res.noteDocs(out.batch)
		if out.cancelled {
			res.Outcome = OutcomeCancelled
			res.seen(out)
			return res
		}
		if out.err != nil {
			res.Outcome = OutcomeFailed
			res.Err = out.err
			res.seen(out)
			return res
		}
		if err := p.commitBatch(ctx, jobID, out, &res, log); err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}
	}
}

func (p *Pipeline) runPipelined(ctx context.Context, jobID string, source pagesource.Source, log *slog.Logger) Result {
	pool := newWorkerPool(p.cfg.MaxConcurrentBatches)
	defer pool.close()

	outCh := make(chan batchOutput, p.cfg.MaxConcurrentBatches)
	prodErrCh := make(chan error, 1)
	var wg sync.WaitGroup

	// The producer reads batches and submits stage work. submit blocks
	// when all workers are busy, which bounds in-flight batches. outCh
	// closes once every submitted batch has reported.
	go func() {
		defer func() {
			go func() {
				wg.Wait()
				close(outCh)
			}()
		}()
		seq, start := 0, 0
		for {
			if p.tracker.IsCancelled(jobID) || ctx.Err() != nil {
				prodErrCh <- nil
				return
			}
			batch, err := p.nextBatch(ctx, source, start)
			if err != nil {
				prodErrCh <- err
				return
			}
			if len(batch.Pages) == 0 {
				p.settleTotal(jobID, start)
				prodErrCh <- nil
				return
			}
			start += len(batch.Pages)

			b, s := batch, seq
			seq++
			wg.Add(1)
			err = pool.submit(ctx, func() {
				defer wg.Done()
				outCh <- p.processBatch(ctx, jobID, s, b)
			})
			if err != nil {
				wg.Done()
				prodErrCh <- err
				return
			}
		}
	}()

	var res Result
	var fatal error
	cancelled := false

	// Upserts happen here as completions arrive, in whatever order the
	// workers finish. Batch offsets keep the indexed content identical
	// to a sequential run.
	for out := range outCh {
		res.noteDocs(out.batch)
		switch {
		case out.cancelled:
			cancelled = true
			res.seen(out)
		case out.err != nil:
			if fatal == nil {
				fatal = out.err
			}
			res.seen(out)
		case fatal != nil || cancelled:
			// A sibling batch already failed; do not index more.
			res.seen(out)
		default:
			if err := p.commitBatch(ctx, jobID, out, &res, log); err != nil && fatal == nil {
				fatal = err
			}
		}
	}
	producerErr := <-prodErrCh

	switch {
	case cancelled || p.tracker.IsCancelled(jobID):
		res.Outcome = OutcomeCancelled
	case fatal != nil:
		res.Outcome = OutcomeFailed
		res.Err = fatal
	case producerErr != nil:
		res.Outcome = OutcomeFailed
		res.Err = producerErr
	default:
		res.Outcome = OutcomeCompleted
	}
	return res
}

// seen records the partial failures of a batch that will not be committed,
// so the run's result still reports them.
func (r *Result) seen(out batchOutput) {
	r.PartialFailures = append(r.PartialFailures, out.partial...)
}

// settleTotal fills in the job's page total once the source has drained.
// Jobs submitted before page counts are known start with total 0; the page
// count is definite at EOF. A caller-provided total is left alone.
func (p *Pipeline) settleTotal(jobID string, pagesRead int) {
	if snap, ok := p.tracker.Get(jobID); ok && snap.Total == 0 {
		p.tracker.SetTotal(jobID, pagesRead)
	}
}

// nextBatch reads up to BatchSize pages. io.EOF terminates the batch; any
// other error fails the run.
func (p *Pipeline) nextBatch(ctx context.Context, source pagesource.Source, start int) (model.Batch, error) {
	batch := model.Batch{Start: start}
	for len(batch.Pages) < p.cfg.BatchSize {
		page, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Batch{}, fmt.Errorf("read page: %w", err)
		}
		batch.Pages = append(batch.Pages, page)
	}
	return batch, nil
}

// processBatch runs the worker-side stages: embed, the mid-batch
// cancellation checkpoint, media storage and point building. Upsert happens
// on the consumer side.
func (p *Pipeline) processBatch(ctx context.Context, jobID string, seq int, batch model.Batch) batchOutput {
	out := batchOutput{seq: seq, batch: batch}

	results, err := p.embedBatch(ctx, batch)
	if err != nil {
		out.err = err
		return out
	}

	// Mid-batch checkpoint between embedding and storage: embedding is
	// the expensive stage, so a cancel lands here most often.
	if p.tracker.IsCancelled(jobID) || ctx.Err() != nil {
		out.cancelled = true
		return out
	}

	pooled, err := p.pooler.PoolBatch(ctx, results)
	if err != nil {
		out.err = fmt.Errorf("pool batch starting at page %d: %w", batch.Start, err)
		return out
	}

	now := time.Now().UTC()
	for i, page := range batch.Pages {
		id := pointID(page.DocumentID, page.PageIndex)

		imageKey, ocrKey, upErr := p.storeMedia(ctx, page, id)
		if upErr != nil {
			if p.cfg.FailFast {
				out.err = fmt.Errorf("store media for %s page %d: %w", page.DocumentID, page.PageIndex, upErr)
				return out
			}
			out.partial = append(out.partial, PartialUploadFailure{
				DocumentID: page.DocumentID,
				PageIndex:  page.PageIndex,
				Err:        upErr,
			})
			continue
		}

		payload := model.Payload{
			DocumentID: page.DocumentID,
			Filename:   page.Filename,
			PageIndex:  page.PageIndex,
			TotalPages: page.TotalPages,
			ImageKey:   imageKey,
			OCRKey:     ocrKey,
			IndexedAt:  now,
		}
		point := model.Point{
			ID: id,
			Multi: map[string][][]float32{
				model.SpaceOriginal: results[i].Vectors,
				model.SpaceRow:      pooled[i].Row,
				model.SpaceColumn:   pooled[i].Column,
			},
			Payload: payload,
		}
		if p.encoder != nil {
			point.Single = map[string][]float32{
				model.SpaceCompressed: p.encoder.Encode(results[i].Vectors),
			}
		}
		out.points = append(out.points, point)
		out.rows = append(out.rows, analytics.PageRow{
			DocumentID:    page.DocumentID,
			Filename:      page.Filename,
			PageIndex:     page.PageIndex,
			TotalPages:    page.TotalPages,
			WidthPx:       page.WidthPx,
			HeightPx:      page.HeightPx,
			FileSizeBytes: page.FileSizeBytes,
			IndexedAt:     now,
		})
	}
	return out
}

// commitBatch upserts the batch's points, records analytics rows and
// advances the progress counter.
func (p *Pipeline) commitBatch(ctx context.Context, jobID string, out batchOutput, res *Result, log *slog.Logger) error {
	if len(out.points) > 0 {
		if err := p.index.Upsert(ctx, out.points); err != nil {
			return fmt.Errorf("upsert batch starting at page %d: %w", out.batch.Start, err)
		}
	}
	if p.analytics != nil && len(out.rows) > 0 {
		if err := p.analytics.RecordPages(ctx, out.rows); err != nil {
			// Analytics is a side store; a write failure must not
			// unwind an already indexed batch.
			log.Warn("analytics write failed", "error", err)
		}
	}
	res.PagesProcessed += len(out.points)
	res.PartialFailures = append(res.PartialFailures, out.partial...)

	last := out.batch.GlobalIndex(len(out.batch.Pages) - 1)
	p.tracker.Update(jobID, res.PagesProcessed, fmt.Sprintf("Indexed through page %d", last+1))
	log.Debug("batch committed", "batch_start", out.batch.Start, "points", len(out.points))
	return nil
}

// embedBatch embeds all pages of a batch in one backend call and stitches
// the patch grids onto the results.
func (p *Pipeline) embedBatch(ctx context.Context, batch model.Batch) ([]model.EmbeddingResult, error) {
	images := make([][]byte, len(batch.Pages))
	dims := make([]embedder.Dimensions, len(batch.Pages))
	for i, page := range batch.Pages {
		images[i] = page.Image
		dims[i] = embedder.Dimensions{Width: page.WidthPx, Height: page.HeightPx}
	}

	grids, err := p.emb.Patches(ctx, dims)
	if err != nil {
		return nil, fmt.Errorf("patch grids: %w", err)
	}
	embs, err := p.emb.EmbedImages(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("embed batch starting at page %d: %w", batch.Start, err)
	}
	if len(embs) != len(batch.Pages) || len(grids) != len(batch.Pages) {
		return nil, fmt.Errorf("embedding backend returned %d embeddings and %d grids for %d pages", len(embs), len(grids), len(batch.Pages))
	}

	results := make([]model.EmbeddingResult, len(embs))
	for i, e := range embs {
		results[i] = model.EmbeddingResult{
			Vectors:    e.Embedding,
			PatchStart: e.ImagePatchStart,
			PatchLen:   e.ImagePatchLen,
			NPatchesX:  grids[i].NPatchesX,
			NPatchesY:  grids[i].NPatchesY,
		}
	}
	return results, nil
}

// storeMedia uploads the page image and its metadata JSON, with retry on
// transient errors.
func (p *Pipeline) storeMedia(ctx context.Context, page model.PageRecord, id string) (imageKey, ocrKey string, err error) {
	if p.objects == nil {
		return "", "", nil
	}

	contentType, ext := sniffImage(page.Image)
	imageKey = objectstore.ImageKey(page.DocumentID, page.PageIndex, id, ext)
	err = backoff.Do(ctx, uploadAttempts, uploadBackoff, func() error {
		return p.objects.Put(ctx, imageKey, page.Image, contentType)
	})
	if err != nil {
		return "", "", err
	}

	meta, err := json.Marshal(map[string]any{
		"document_id": page.DocumentID,
		"filename":    page.Filename,
		"page_index":  page.PageIndex,
		"total_pages": page.TotalPages,
		"width_px":    page.WidthPx,
		"height_px":   page.HeightPx,
	})
	if err != nil {
		return "", "", err
	}
	ocrKey = objectstore.JSONKey(page.DocumentID, page.PageIndex, metadataJSONName)
	err = backoff.Do(ctx, uploadAttempts, uploadBackoff, func() error {
		return p.objects.Put(ctx, ocrKey, meta, "application/json")
	})
	if err != nil {
		return "", "", err
	}
	return imageKey, ocrKey, nil
}

func (p *Pipeline) runCleanup(ctx context.Context, res Result, tempPaths []string, log *slog.Logger) cleanup.Report {
	if p.cleaner == nil {
		return cleanup.Report{}
	}
	// Cleanup must run even when the caller's context is already gone.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	report := p.cleaner.Run(cleanupCtx, res.documentIDs(), tempPaths)
	if !report.OK() {
		log.Warn("cleanup incomplete", "failed_steps", report.Failed())
	}
	return report
}

// pointID derives the deterministic point ID for a page.
func pointID(documentID string, pageIndex int) string {
	name := fmt.Sprintf("%s/%d", documentID, pageIndex)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

func sniffImage(data []byte) (contentType, ext string) {
	contentType = http.DetectContentType(data)
	switch contentType {
	case "image/png":
		return contentType, "png"
	case "image/jpeg":
		return contentType, "jpg"
	case "image/webp":
		return contentType, "webp"
	}
	return contentType, "bin"
}
