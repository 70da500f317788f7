// Package snappy provides visual document retrieval over multi-vector page
// embeddings.
//
// Pages are embedded by an external ColPali-style backend into one vector
// per token. Snappy ingests them through a streaming, batched pipeline and
// answers text queries with a two-stage search: cheap prefetch on pooled
// (row/column mean) vectors, exact MaxSim rerank on the originals.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	emb := embedder.NewHTTPClient("http://localhost:7000")
//	db, err := snappy.New(emb, vectorindex.NewMemory(),
//	    snappy.WithObjectStore(objectstore.NewMemory()),
//	    snappy.WithCompression(1024),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close(ctx)
//
//	if err := db.EnsureSchema(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Ingest runs in the background and returns a job id:
//
//	jobID, err := db.Ingest(ctx, snappy.IngestRequest{
//	    Source:     pagesource.NewFileSource(pages),
//	    TotalPages: len(pages),
//	})
//
//	for ev := range db.WatchJob(ctx, jobID) {
//	    fmt.Printf("%s %d%%\n", ev.Status, ev.Percent)
//	}
//
// Search returns pages best-first:
//
//	results, err := db.Search(ctx, "quarterly revenue table", 5)
//	for _, r := range results {
//	    fmt.Println(r.Label, r.Score)
//	}
package snappy
