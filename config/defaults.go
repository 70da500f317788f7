package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Embedder.TimeoutSeconds == 0 {
		cfg.Embedder.TimeoutSeconds = 120
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "documents"
	}
	if cfg.Compression.Dim == 0 {
		cfg.Compression.Dim = 1024
	}
	if cfg.Compression.Seed == 0 {
		cfg.Compression.Seed = 42
	}
	if cfg.Compression.Buckets == 0 {
		cfg.Compression.Buckets = 4
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 4
	}
	if cfg.Pipeline.MaxConcurrentBatches == 0 {
		cfg.Pipeline.MaxConcurrentBatches = 2
	}
	if cfg.Pipeline.MaxFileSizeBytes == 0 {
		cfg.Pipeline.MaxFileSizeBytes = 50 << 20
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.PrefetchLimit == 0 {
		cfg.Search.PrefetchLimit = 200
	}
	if cfg.Search.CompressedLimit == 0 {
		cfg.Search.CompressedLimit = 500
	}
	if cfg.Search.Oversampling == 0 {
		cfg.Search.Oversampling = 2.0
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "data/analytics.db"
	}
}
