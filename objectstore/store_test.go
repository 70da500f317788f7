package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyConvention(t *testing.T) {
	assert.Equal(t, "doc-1/3/image/ab12.png", ImageKey("doc-1", 3, "ab12", "png"))
	assert.Equal(t, "doc-1/3/ocr.json", JSONKey("doc-1", 3, "ocr.json"))
	assert.Equal(t, "doc-1/", DocumentPrefix("doc-1"))
}

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	key := ImageKey("doc", 1, "x", "png")
	require.NoError(t, m.Put(ctx, key, []byte("img"), "image/png"))

	obj, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), obj.Data)
	assert.Equal(t, "image/png", obj.ContentType)

	require.NoError(t, m.Delete(ctx, key))
	_, err = m.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is fine.
	require.NoError(t, m.Delete(ctx, key))
}

func TestMemoryDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, ImageKey("a", 1, "1", "png"), []byte("1"), "image/png"))
	require.NoError(t, m.Put(ctx, ImageKey("a", 2, "2", "png"), []byte("2"), "image/png"))
	require.NoError(t, m.Put(ctx, ImageKey("b", 1, "3", "png"), []byte("3"), "image/png"))

	require.NoError(t, m.DeletePrefix(ctx, DocumentPrefix("a")))

	keys, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{ImageKey("b", 1, "3", "png")}, keys)
}
