// Package cleanup removes the traces of failed or cancelled ingestion jobs
// across every store the pipeline touches.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/athrael-soju/snappy/analytics"
	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/objectstore"
	"github.com/athrael-soju/snappy/vectorindex"
)

// StepResult records the outcome of one cleanup step.
type StepResult struct {
	Name string
	Err  error
}

// Report is the aggregated outcome of a cleanup run. Every step result is
// present regardless of the others' outcomes.
type Report struct {
	Steps []StepResult
}

// OK reports whether every step succeeded.
func (r Report) OK() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the names of failed steps.
func (r Report) Failed() []string {
	var names []string
	for _, s := range r.Steps {
		if s.Err != nil {
			names = append(names, s.Name)
		}
	}
	return names
}

func (r Report) String() string {
	if r.OK() {
		return "cleanup ok"
	}
	return fmt.Sprintf("cleanup failed steps: %s", strings.Join(r.Failed(), ", "))
}

// Coordinator runs cleanup across the embedding backend, the vector index,
// the object store, the analytics store and the local filesystem.
//
// Each step runs regardless of the others' outcomes: a dead vector index
// must not keep orphaned images alive in the object store.
type Coordinator struct {
	emb       embedder.Client
	index     vectorindex.Index
	objects   objectstore.Store
	analytics analytics.Store
}

// NewCoordinator creates a Coordinator. Nil collaborators skip their step.
func NewCoordinator(emb embedder.Client, index vectorindex.Index, objects objectstore.Store, an analytics.Store) *Coordinator {
	return &Coordinator{emb: emb, index: index, objects: objects, analytics: an}
}

// Run removes every trace of the given documents and deletes temp files.
func (c *Coordinator) Run(ctx context.Context, documentIDs []string, tempPaths []string) Report {
	var report Report
	add := func(name string, err error) {
		report.Steps = append(report.Steps, StepResult{Name: name, Err: err})
	}

	add("embedder_restart", c.restartEmbedder(ctx))
	add("index_delete", c.deleteFromIndex(ctx, documentIDs))
	add("object_delete", c.deleteFromObjectStore(ctx, documentIDs))
	add("analytics_delete", c.deleteFromAnalytics(ctx, documentIDs))
	add("temp_files", removeTempFiles(tempPaths))

	return report
}

func (c *Coordinator) restartEmbedder(ctx context.Context) error {
	if c.emb == nil {
		return nil
	}
	// The HTTP client already treats a connection reset during restart as
	// success; anything else is a real failure.
	return c.emb.Restart(ctx)
}

func (c *Coordinator) deleteFromIndex(ctx context.Context, documentIDs []string) error {
	if c.index == nil {
		return nil
	}
	var errs []error
	for _, id := range documentIDs {
		err := c.index.DeleteByFilter(ctx, vectorindex.Filter{Field: "document_id", Value: id})
		if err != nil && !errors.Is(err, vectorindex.ErrNotFound) {
			errs = append(errs, fmt.Errorf("document %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) deleteFromObjectStore(ctx context.Context, documentIDs []string) error {
	if c.objects == nil {
		return nil
	}
	var errs []error
	for _, id := range documentIDs {
		if err := c.objects.DeletePrefix(ctx, objectstore.DocumentPrefix(id)); err != nil {
			errs = append(errs, fmt.Errorf("document %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) deleteFromAnalytics(ctx context.Context, documentIDs []string) error {
	if c.analytics == nil {
		return nil
	}
	var errs []error
	for _, id := range documentIDs {
		if err := c.analytics.DeleteDocument(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("document %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func removeTempFiles(paths []string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
