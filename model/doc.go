// Package model defines the shared value types of the ingestion and
// retrieval pipelines: page records, embedding results, pooled projections,
// index points and batches.
package model
