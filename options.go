package snappy

import (
	"log/slog"

	"github.com/athrael-soju/snappy/analytics"
	"github.com/athrael-soju/snappy/config"
	"github.com/athrael-soju/snappy/objectstore"
	"github.com/athrael-soju/snappy/pagesource"
	"github.com/athrael-soju/snappy/pipeline"
	"github.com/athrael-soju/snappy/retrieval"
	"github.com/athrael-soju/snappy/schema"
	"github.com/athrael-soju/snappy/vectorindex"
)

type options struct {
	logger      *Logger
	metrics     MetricsCollector
	objects     objectstore.Store
	analytics   analytics.Store
	cache       retrieval.QueryCache
	constraints pagesource.Constraints

	schemaCfg   schema.Config
	pipelineCfg pipeline.Config
	searchCfg   retrieval.Config

	compressionSeed    int64
	compressionBuckets int
}

// Option configures Snappy constructor behavior.
type Option func(*options)

// WithLogger configures structured logging. If nil is passed, logging is
// disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel enables text logging to stderr at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures metrics collection. If nil is passed,
// NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithObjectStore configures page media storage. Without one, page images
// and metadata JSON are not persisted and payloads carry no object keys.
func WithObjectStore(store objectstore.Store) Option {
	return func(o *options) {
		o.objects = store
	}
}

// WithAnalyticsStore configures the per-page analytics store.
func WithAnalyticsStore(store analytics.Store) Option {
	return func(o *options) {
		o.analytics = store
	}
}

// WithQueryCache configures query embedding caching for Search.
func WithQueryCache(cache retrieval.QueryCache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithConstraints bounds what ingestion submissions may contain.
func WithConstraints(c pagesource.Constraints) Option {
	return func(o *options) {
		o.constraints = c
	}
}

// WithQuantization enables binary quantization on the vector spaces.
// alwaysRAM pins the quantized codes in memory.
func WithQuantization(alwaysRAM bool) Option {
	return func(o *options) {
		o.schemaCfg.Quantized = true
		o.schemaCfg.AlwaysRAM = alwaysRAM
		if o.searchCfg.Params.Oversampling == 0 {
			o.searchCfg.Params.Oversampling = 2.0
		}
		o.searchCfg.Params.Rescore = true
	}
}

// WithCompression enables the single-vector compressed space with the
// given fixed dimension, used as an extra coarse first stage in Search.
func WithCompression(dim int) Option {
	return func(o *options) {
		o.schemaCfg.Compressed = true
		o.schemaCfg.CompressedDim = dim
		o.searchCfg.Compressed = true
	}
}

// WithCompressionSeed overrides the compressed transform's seed. Documents
// and queries must be encoded with the same seed, so changing it on a
// populated index requires re-ingestion.
func WithCompressionSeed(seed int64) Option {
	return func(o *options) {
		o.compressionSeed = seed
	}
}

// WithPipelineConfig overrides ingestion tuning.
func WithPipelineConfig(cfg pipeline.Config) Option {
	return func(o *options) {
		o.pipelineCfg = cfg
	}
}

// WithSearchConfig overrides retrieval tuning.
func WithSearchConfig(cfg retrieval.Config) Option {
	return func(o *options) {
		o.searchCfg = cfg
	}
}

// FromConfig maps a loaded configuration file onto the equivalent options.
// Collaborator options (object store, analytics, cache) still need to be
// wired separately.
func FromConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.schemaCfg = schema.Config{
			Quantized:     cfg.Index.Quantization.Enabled,
			AlwaysRAM:     cfg.Index.Quantization.AlwaysRAM,
			OnDiskVectors: cfg.Index.OnDiskVectors,
			OnDiskPayload: cfg.Index.OnDiskPayload,
			Compressed:    cfg.Compression.Enabled,
			CompressedDim: cfg.Compression.Dim,
		}
		o.pipelineCfg = pipeline.Config{
			BatchSize:            cfg.Pipeline.BatchSize,
			MaxConcurrentBatches: cfg.Pipeline.MaxConcurrentBatches,
			Pipelined:            cfg.Pipeline.Pipelined,
			FailFast:             cfg.Pipeline.FailFast,
		}
		o.searchCfg = retrieval.Config{
			PrefetchLimit:   cfg.Search.PrefetchLimit,
			Compressed:      cfg.Compression.Enabled,
			CompressedLimit: cfg.Search.CompressedLimit,
			Params: vectorindex.SearchParams{
				Oversampling: cfg.Search.Oversampling,
				Rescore:      cfg.Search.RescoreOrDefault(),
			},
		}
		o.compressionSeed = cfg.Compression.Seed
		o.compressionBuckets = cfg.Compression.Buckets
		o.constraints = pagesource.Constraints{
			MaxFileSizeBytes: cfg.Pipeline.MaxFileSizeBytes,
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
