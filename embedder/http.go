package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/athrael-soju/snappy/internal/backoff"
)

// HTTPClient talks JSON over HTTP to the embedding backend.
//
// Calls are rate limited and retried with exponential backoff on transient
// failures (network errors, 5xx). Client errors (4xx) are surfaced
// immediately.
type HTTPClient struct {
	baseURL   string
	hc        *http.Client
	limiter   *rate.Limiter
	attempts  int
	retryBase time.Duration
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithRateLimit caps requests per second against the backend.
// Zero or negative disables limiting.
func WithRateLimit(rps float64) HTTPOption {
	return func(c *HTTPClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry configures the bounded retry policy for transient failures.
func WithRetry(attempts int, base time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

// NewHTTPClient creates a client for the backend at baseURL
// (e.g. "http://localhost:7000").
func NewHTTPClient(baseURL string, optFns ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:   baseURL,
		hc:        &http.Client{Timeout: 120 * time.Second},
		attempts:  3,
		retryBase: 250 * time.Millisecond,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(c)
		}
	}
	return c
}

// Health implements Client.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// Info implements Client.
func (c *HTTPClient) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := c.get(ctx, "/info", &info); err != nil {
		return Info{}, err
	}
	if info.Dim <= 0 {
		return Info{}, fmt.Errorf("%w: backend reported dim %d", ErrUnavailable, info.Dim)
	}
	return info, nil
}

// Patches implements Client. One batched call for all sizes.
func (c *HTTPClient) Patches(ctx context.Context, dims []Dimensions) ([]PatchGrid, error) {
	req := struct {
		Dimensions []Dimensions `json:"dimensions"`
	}{Dimensions: dims}
	var resp struct {
		Patches []PatchGrid `json:"patches"`
	}
	if err := c.post(ctx, "/patches", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Patches) != len(dims) {
		return nil, fmt.Errorf("%w: got %d patch grids for %d sizes", ErrUnavailable, len(resp.Patches), len(dims))
	}
	return resp.Patches, nil
}

// EmbedQueries implements Client. One batched call for all texts.
func (c *HTTPClient) EmbedQueries(ctx context.Context, texts []string) ([][][]float32, error) {
	req := struct {
		Queries []string `json:"queries"`
	}{Queries: texts}
	var resp struct {
		Embeddings [][][]float32 `json:"embeddings"`
	}
	if err := c.post(ctx, "/embed/queries", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d queries", ErrUnavailable, len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// EmbedImages implements Client. One batched call for all images.
func (c *HTTPClient) EmbedImages(ctx context.Context, images [][]byte) ([]ImageEmbedding, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	req := struct {
		Images []string `json:"images"`
	}{Images: encoded}
	var resp struct {
		Embeddings []ImageEmbedding `json:"embeddings"`
	}
	if err := c.post(ctx, "/embed/images", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(images) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d images", ErrUnavailable, len(resp.Embeddings), len(images))
	}
	return resp.Embeddings, nil
}

// Restart implements Client. A connection dropped while the backend goes
// down is expected and treated as success.
func (c *HTTPClient) Restart(ctx context.Context) error {
	err := c.doOnce(ctx, http.MethodPost, "/restart", nil, nil)
	if err != nil && isConnReset(err) {
		return nil
	}
	return err
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	err := backoff.Do(ctx, c.attempts, c.retryBase, func() error {
		return c.doOnce(ctx, method, path, in, out)
	})
	if err == nil {
		return nil
	}
	if isTransport(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return backoff.Permanent(err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err // network errors are retryable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("backend returned %s", resp.Status)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backoff.Permanent(fmt.Errorf("backend returned %s: %s", resp.Status, bytes.TrimSpace(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode backend response: %w", err))
	}
	return nil
}

func isTransport(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	// 5xx responses exhaust retries with a plain error; treat those as
	// transport-level unavailability too.
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errContains(err, "backend returned 5")
}

func isConnReset(err error) bool {
	if err == nil {
		return false
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errContains(err, "connection reset") || errContains(err, "connection refused") ||
		errContains(err, "EOF")
}

func errContains(err error, s string) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte(s))
}
