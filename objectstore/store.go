// Package objectstore defines the boundary to the page-media object store
// and provides in-memory, MinIO and S3 backends.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("object not found")

// Object is a stored object with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is the object store boundary. Keys follow the document path
// convention produced by ImageKey and JSONKey.
type Store interface {
	// Put writes an object, overwriting any existing one.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get reads an object. ErrNotFound when absent.
	Get(ctx context.Context, key string) (Object, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under the prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// List returns the keys under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ImageKey builds the storage key of a page image:
// {document_id}/{page_number}/image/{id}.{ext}
//
// This layout is a contract with downstream consumers and must not change.
func ImageKey(documentID string, pageNumber int, id, ext string) string {
	return fmt.Sprintf("%s/%d/image/%s.%s", documentID, pageNumber, id, ext)
}

// JSONKey builds the storage key of a per-page JSON document (e.g. OCR
// output): {document_id}/{page_number}/{name}
func JSONKey(documentID string, pageNumber int, name string) string {
	return fmt.Sprintf("%s/%d/%s", documentID, pageNumber, name)
}

// DocumentPrefix is the key prefix under which all of a document's objects
// live.
func DocumentPrefix(documentID string) string {
	return documentID + "/"
}
