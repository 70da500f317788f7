package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrael-soju/snappy/model"
)

func testSchema(quantized bool) Schema {
	return Schema{
		Dim: 4,
		Multi: map[string]MultiSpace{
			model.SpaceOriginal: {},
			model.SpaceRow:      {Quantized: quantized},
			model.SpaceColumn:   {Quantized: quantized},
		},
	}
}

// axisPoint stores a point whose every token is the unit vector along axis.
func axisPoint(id, doc string, page, axis int) model.Point {
	vec := make([]float32, 4)
	vec[axis] = 1
	multi := [][]float32{vec}
	return model.Point{
		ID: id,
		Multi: map[string][][]float32{
			model.SpaceOriginal: multi,
			model.SpaceRow:      multi,
			model.SpaceColumn:   multi,
		},
		Payload: model.Payload{
			DocumentID: doc,
			Filename:   doc + ".pdf",
			PageIndex:  page,
			TotalPages: 3,
		},
	}
}

func axisQuery(axis int) [][]float32 {
	vec := make([]float32, 4)
	vec[axis] = 1
	return [][]float32{vec}
}

func TestMemoryRequiresEnsure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Info(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	err = m.Upsert(ctx, []model.Point{axisPoint("a", "doc", 1, 0)})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Query(ctx, Query{RerankSpace: model.SpaceOriginal, RerankMulti: axisQuery(0), Limit: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))

	batch := []model.Point{
		axisPoint("a", "doc", 1, 0),
		axisPoint("b", "doc", 2, 1),
	}
	require.NoError(t, m.Upsert(ctx, batch))
	require.NoError(t, m.Upsert(ctx, batch))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryQueryRanksByMaxSim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))
	require.NoError(t, m.Upsert(ctx, []model.Point{
		axisPoint("a", "doc", 1, 0),
		axisPoint("b", "doc", 2, 1),
		axisPoint("c", "doc", 3, 2),
	}))

	res, err := m.Query(ctx, Query{
		Prefetch: []Prefetch{
			{Space: model.SpaceRow, Multi: axisQuery(1), Limit: 10},
			{Space: model.SpaceColumn, Multi: axisQuery(1), Limit: 10},
		},
		RerankSpace: model.SpaceOriginal,
		RerankMulti: axisQuery(1),
		Limit:       2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "b", res[0].ID)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestMemoryQueryLimitAndOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))

	var points []model.Point
	for i := 0; i < 8; i++ {
		points = append(points, axisPoint(string(rune('a'+i)), "doc", i+1, i%4))
	}
	require.NoError(t, m.Upsert(ctx, points))

	for _, k := range []int{1, 3, 20} {
		res, err := m.Query(ctx, Query{
			RerankSpace: model.SpaceOriginal,
			RerankMulti: axisQuery(2),
			Limit:       k,
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res), k)
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
	}
}

func TestMemoryEqualityFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))
	require.NoError(t, m.Upsert(ctx, []model.Point{
		axisPoint("a", "alpha", 1, 0),
		axisPoint("b", "beta", 1, 0),
		axisPoint("c", "alpha", 2, 0),
	}))

	res, err := m.Query(ctx, Query{
		RerankSpace: model.SpaceOriginal,
		RerankMulti: axisQuery(0),
		Limit:       10,
		Filter:      Filter{Field: "document_id", Value: "alpha"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, "alpha", r.Payload.DocumentID)
	}
}

func TestMemoryDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))
	require.NoError(t, m.Upsert(ctx, []model.Point{
		axisPoint("a", "alpha", 1, 0),
		axisPoint("b", "beta", 1, 1),
		axisPoint("c", "alpha", 2, 2),
	}))

	require.NoError(t, m.DeleteByFilter(ctx, Filter{Field: "document_id", Value: "alpha"}))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pts, cursor, err := m.Scroll(ctx, Filter{}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, cursor)
	require.Len(t, pts, 1)
	assert.Equal(t, "b", pts[0].ID)
}

func TestMemoryQuantizedPrefetchAgreesOnTop1(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(true)))
	require.NoError(t, m.Upsert(ctx, []model.Point{
		axisPoint("a", "doc", 1, 0),
		axisPoint("b", "doc", 2, 1),
		axisPoint("c", "doc", 3, 2),
		axisPoint("d", "doc", 4, 3),
	}))

	q := Query{
		Prefetch:    []Prefetch{{Space: model.SpaceRow, Multi: axisQuery(3), Limit: 2}},
		RerankSpace: model.SpaceOriginal,
		RerankMulti: axisQuery(3),
		Limit:       1,
		Params:      SearchParams{Oversampling: 2.0, Rescore: true},
	}
	res, err := m.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d", res[0].ID)

	// Bypassing quantization must find the same winner.
	q.Params = SearchParams{IgnoreQuant: true}
	exact, err := m.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, res[0].ID, exact[0].ID)
}

func TestMemoryEnsureExtendsWithSingleSpace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))

	extended := testSchema(false)
	extended.Single = map[string]SingleSpace{
		model.SpaceCompressed: {Dim: 8},
	}
	require.NoError(t, m.Ensure(ctx, extended))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Contains(t, info.Single, model.SpaceCompressed)

	// Dimension changes are rejected.
	bad := testSchema(false)
	bad.Dim = 99
	require.Error(t, m.Ensure(ctx, bad))
}

func TestMemoryScrollPaginates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(false)))

	var points []model.Point
	for i := 0; i < 5; i++ {
		points = append(points, axisPoint(string(rune('a'+i)), "doc", i+1, i%4))
	}
	require.NoError(t, m.Upsert(ctx, points))

	var seen []string
	cursor := ""
	for {
		pts, next, err := m.Scroll(ctx, Filter{}, 2, cursor)
		require.NoError(t, err)
		for _, p := range pts {
			seen = append(seen, p.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Ensure(ctx, testSchema(true)))
	require.NoError(t, m.Upsert(ctx, []model.Point{
		axisPoint("a", "alpha", 1, 0),
		axisPoint("b", "beta", 1, 1),
	}))

	path := filepath.Join(t.TempDir(), "index.snap")
	require.NoError(t, m.SaveSnapshot(path))

	restored, err := LoadSnapshot(path)
	require.NoError(t, err)

	n, err := restored.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := restored.Query(ctx, Query{
		RerankSpace: model.SpaceOriginal,
		RerankMulti: axisQuery(1),
		Limit:       1,
		Filter:      Filter{Field: "document_id", Value: "beta"},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].ID)
}
