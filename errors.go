package snappy

import (
	"errors"
	"fmt"

	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/jobs"
	"github.com/athrael-soju/snappy/vectorindex"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrIndexUnavailable is returned when the vector index is missing or
	// unreachable. Callers should surface it as service-unavailable rather
	// than degrade to a partial response.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrEmbeddingUnavailable is returned when the embedding backend cannot
	// produce an embedding for a query or page batch.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrJobNotFound is returned when a job id is unknown to the tracker.
	ErrJobNotFound = errors.New("job not found")

	// ErrClosed is returned when operations are invoked after Close.
	ErrClosed = errors.New("engine closed")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, vectorindex.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if errors.Is(err, embedder.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if errors.Is(err, jobs.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}

	return err
}
