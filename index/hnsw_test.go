package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallHNSW(metric Metric) *HNSWBackend {
	// m=16 with a handful of points keeps the graph fully connected, so
	// search is exact for these tests regardless of entry point.
	return NewHNSWBackend(2, metric, 16, 1000)
}

func TestHNSWSearchFindsExactMatch(t *testing.T) {
	b := smallHNSW(MetricL2)
	require.NoError(t, b.Add([]VectorWithID{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{5, 5}},
		{ID: 3, Vector: []float32{10, 10}},
		{ID: 4, Vector: []float32{1, 1}},
	}))

	results, err := b.Search(Query{Vector: []float32{1, 1}}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(4), results[0].ID)
}

func TestHNSWUpsertReplacesVector(t *testing.T) {
	b := smallHNSW(MetricL2)
	require.NoError(t, b.Add([]VectorWithID{{ID: 1, Vector: []float32{0, 0}}}))
	require.NoError(t, b.Upsert([]VectorWithID{{ID: 1, Vector: []float32{9, 9}}}))

	assert.Equal(t, int64(1), b.Count())
	results, err := b.Search(Query{Vector: []float32{9, 9}}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, float32(0), results[0].Distance, 1e-6)
}

func TestHNSWDeleteRemovesFromGraphAndResults(t *testing.T) {
	b := smallHNSW(MetricL2)
	require.NoError(t, b.Add([]VectorWithID{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 1}},
		{ID: 3, Vector: []float32{2, 2}},
	}))
	require.NoError(t, b.Delete([]uint64{1}))

	assert.Equal(t, int64(2), b.Count())
	results, err := b.Search(Query{Vector: []float32{0, 0}}, 3, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(1), r.ID)
	}
}

func TestHNSWDeleteOfEntryPointPicksNewEntry(t *testing.T) {
	b := smallHNSW(MetricL2)
	require.NoError(t, b.Add([]VectorWithID{{ID: 1, Vector: []float32{0, 0}}}))
	require.NoError(t, b.Delete([]uint64{1}))
	assert.Equal(t, int64(0), b.Count())

	require.NoError(t, b.Add([]VectorWithID{{ID: 2, Vector: []float32{3, 3}}}))
	results, err := b.Search(Query{Vector: []float32{3, 3}}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].ID)
}

func TestHNSWSearchHonorsFilters(t *testing.T) {
	b := smallHNSW(MetricL2)
	require.NoError(t, b.Add([]VectorWithID{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 0}},
		{ID: 3, Vector: []float32{2, 0}},
	}))

	results, err := b.Search(Query{Vector: []float32{0, 0}}, 1, []Filter{NewBitmapFilter(3)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(3), results[0].ID)
}

func TestHNSWNeedToRebuildAfterHeavyDeletion(t *testing.T) {
	b := smallHNSW(MetricL2)
	var items []VectorWithID
	for i := uint64(1); i <= 10; i++ {
		items = append(items, VectorWithID{ID: i, Vector: []float32{float32(i), float32(i)}})
	}
	require.NoError(t, b.Add(items))
	assert.False(t, b.NeedToRebuild())

	for i := uint64(1); i <= 6; i++ {
		require.NoError(t, b.Delete([]uint64{i}))
	}
	assert.True(t, b.NeedToRebuild())
}

func TestHNSWResizeAndGetMaxElements(t *testing.T) {
	b := smallHNSW(MetricL2)
	assert.Equal(t, int64(1000), b.GetMaxElements())
	require.NoError(t, b.ResizeMaxElements(5000))
	assert.Equal(t, int64(5000), b.GetMaxElements())
}

func TestHNSWSaveLoadRoundTrip(t *testing.T) {
	path := t.TempDir() + "/hnsw.idx"
	b := smallHNSW(MetricL2)
	require.NoError(t, b.Add([]VectorWithID{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{4, 4}},
	}))
	require.NoError(t, b.Save(path))

	b2 := smallHNSW(MetricL2)
	require.NoError(t, b2.Load(path))
	assert.Equal(t, int64(2), b2.Count())

	results, err := b2.Search(Query{Vector: []float32{4, 4}}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].ID)
}
