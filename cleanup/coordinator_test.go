package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrael-soju/snappy/analytics"
	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/model"
	"github.com/athrael-soju/snappy/objectstore"
	"github.com/athrael-soju/snappy/vectorindex"
)

func seedStores(t *testing.T, idx *vectorindex.Memory, objects *objectstore.Memory, an *analytics.Memory) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, idx.Ensure(ctx, vectorindex.Schema{
		Dim:   4,
		Multi: map[string]vectorindex.MultiSpace{model.SpaceOriginal: {}},
	}))
	require.NoError(t, idx.Upsert(ctx, []model.Point{{
		ID:      "p1",
		Multi:   map[string][][]float32{model.SpaceOriginal: {{1, 0, 0, 0}}},
		Payload: model.Payload{DocumentID: "doc-a", Filename: "a.pdf", PageIndex: 1, TotalPages: 1},
	}}))

	require.NoError(t, objects.Put(ctx, objectstore.ImageKey("doc-a", 1, "p1", "png"), []byte{1}, "image/png"))
	require.NoError(t, an.RecordPages(ctx, []analytics.PageRow{
		{DocumentID: "doc-a", Filename: "a.pdf", PageIndex: 1, TotalPages: 1},
	}))
}

func TestRunRemovesAllTraces(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	objects := objectstore.NewMemory()
	an := analytics.NewMemory()
	emb := embedder.NewMock()
	seedStores(t, idx, objects, an)

	tmp := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(tmp, []byte{1}, 0o644))

	report := NewCoordinator(emb, idx, objects, an).Run(ctx, []string{"doc-a"}, []string{tmp})
	assert.True(t, report.OK())
	assert.Len(t, report.Steps, 5)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, objects.Len())

	rows, err := an.DocumentPages(ctx, "doc-a")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = os.Stat(tmp)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1, emb.RestartCalls())
}

func TestRunStepsAreIsolated(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	objects := objectstore.NewMemory()
	an := analytics.NewMemory()
	seedStores(t, idx, objects, an)

	// Index was never created on this second coordinator's store; force a
	// failing analytics step and check the others still ran.
	an.FailDelete = assert.AnError

	report := NewCoordinator(nil, idx, objects, an).Run(ctx, []string{"doc-a"}, nil)
	assert.False(t, report.OK())
	assert.Equal(t, []string{"analytics_delete"}, report.Failed())

	// Object store cleanup still happened despite the analytics failure.
	assert.Zero(t, objects.Len())
}

func TestRunMissingDocumentIsNotAnError(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	require.NoError(t, idx.Ensure(ctx, vectorindex.Schema{
		Dim:   4,
		Multi: map[string]vectorindex.MultiSpace{model.SpaceOriginal: {}},
	}))

	report := NewCoordinator(nil, idx, objectstore.NewMemory(), analytics.NewMemory()).
		Run(ctx, []string{"never-ingested"}, []string{filepath.Join(t.TempDir(), "gone.png")})
	assert.True(t, report.OK())
}
