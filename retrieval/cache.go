package retrieval

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// QueryCache caches query embeddings keyed by query text. Implementations
// are best-effort: a broken cache degrades to misses, never to errors.
type QueryCache interface {
	Get(text string) ([][]float32, bool)
	Put(text string, vectors [][]float32)
	Close() error
}

// DiskCache persists query embeddings as zstd-compressed gob files, one
// file per query. Multi-vector query embeddings run to hundreds of
// kilobytes, so entries are compressed at rest.
type DiskCache struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu sync.Mutex
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &DiskCache{dir: dir, enc: enc, dec: dec}, nil
}

// Get implements QueryCache.
func (c *DiskCache) Get(text string) ([][]float32, bool) {
	data, err := os.ReadFile(c.path(text))
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	raw, err := c.dec.DecodeAll(data, nil)
	c.mu.Unlock()
	if err != nil {
		return nil, false
	}

	var vectors [][]float32
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vectors); err != nil {
		return nil, false
	}
	return vectors, true
}

// Put implements QueryCache.
func (c *DiskCache) Put(text string, vectors [][]float32) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return
	}

	c.mu.Lock()
	compressed := c.enc.EncodeAll(buf.Bytes(), nil)
	c.mu.Unlock()

	tmp := c.path(text) + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, c.path(text))
}

// Close implements QueryCache.
func (c *DiskCache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

func (c *DiskCache) path(text string) string {
	sum := sha256.Sum256([]byte(text))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".zst")
}
