// Package embedder defines the boundary to the multi-vector embedding
// backend and provides an HTTP client plus an in-memory mock.
package embedder

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the embedding backend cannot be reached
// or cannot produce an embedding.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrUnavailable)`.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Info is the backend's model metadata.
type Info struct {
	// Dim is the embedding dimension of every token vector.
	Dim int `json:"dim"`
}

// Dimensions is a page image size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PatchGrid is the backend-reported patch grid for an image size.
type PatchGrid struct {
	NPatchesX int `json:"n_patches_x"`
	NPatchesY int `json:"n_patches_y"`
}

// ImageEmbedding is the multi-vector embedding of one image with its
// token-boundary metadata.
type ImageEmbedding struct {
	Embedding       [][]float32 `json:"embedding"`
	ImagePatchStart int         `json:"image_patch_start"`
	ImagePatchLen   int         `json:"image_patch_len"`
}

// Client is the embedding backend boundary.
//
// EmbedImages and Patches are single batched calls: implementations must not
// fan out per image.
type Client interface {
	// Health reports whether the backend is reachable and ready.
	Health(ctx context.Context) error

	// Info returns the backend's model metadata.
	Info(ctx context.Context) (Info, error)

	// Patches returns the patch grid for each image size, in order.
	Patches(ctx context.Context, dims []Dimensions) ([]PatchGrid, error)

	// EmbedQueries embeds a batch of query texts into multi-vectors.
	EmbedQueries(ctx context.Context, texts []string) ([][][]float32, error)

	// EmbedImages embeds a batch of images into multi-vectors with
	// token-boundary metadata.
	EmbedImages(ctx context.Context, images [][]byte) ([]ImageEmbedding, error)

	// Restart asks the backend to restart, aborting any in-flight work.
	// Optional; implementations without restart support return nil.
	Restart(ctx context.Context) error
}
