package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapperStartsNotReadyAndRejectsReads(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	assert.Equal(t, StateNotReady, w.State())
	assert.False(t, w.IsReady())

	_, err := w.Search(Query{Vector: []float32{1, 1}}, 5, nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestWrapperMarkReadyAllowsReads(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	require.NoError(t, w.OnCommit(CommitItem{ID: 1, Vector: []float32{1, 1}, Op: OpPut}))
	w.MarkReady()

	results, err := w.Search(Query{Vector: []float32{1, 1}}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestWrapperBuildErrorSurfacesOnReads(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	w.MarkBuildError(errors.New("boom"))
	assert.Equal(t, StateBuildError, w.State())

	_, err := w.Search(Query{Vector: []float32{1, 1}}, 1, nil)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.Error(t, w.BuildError())
}

func TestWrapperOnCommitDeleteRemovesFromSearch(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	require.NoError(t, w.OnCommit(CommitItem{ID: 1, Vector: []float32{1, 1}, Op: OpPut}))
	require.NoError(t, w.OnCommit(CommitItem{ID: 2, Vector: []float32{2, 2}, Op: OpPut}))
	w.MarkReady()

	require.NoError(t, w.OnCommit(CommitItem{ID: 1, Op: OpDelete}))

	results, err := w.Search(Query{Vector: []float32{1, 1}}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].ID)
}

func TestWrapperOnlineOffline(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	assert.False(t, w.IsOnline())
	w.SetOnline()
	assert.True(t, w.IsOnline())
	w.SetOffline()
	assert.False(t, w.IsOnline())
}

func TestWrapperSaveResetsLogBehindAndLoadMarksReady(t *testing.T) {
	path := t.TempDir() + "/flat.idx"
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	require.NoError(t, w.OnCommit(CommitItem{ID: 1, Vector: []float32{3, 4}, Op: OpPut}))
	w.MarkReady()
	require.NoError(t, w.Save(path))
	assert.False(t, w.NeedToSave())

	w2 := NewWrapper(NewFlatBackend(2, MetricL2))
	require.NoError(t, w2.Load(path))
	assert.True(t, w2.IsReady())

	results, err := w2.Search(Query{Vector: []float32{3, 4}}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestWrapperLoadDimensionMismatchMarksBuildError(t *testing.T) {
	path := t.TempDir() + "/flat.idx"
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	require.NoError(t, w.OnCommit(CommitItem{ID: 1, Vector: []float32{1, 2}, Op: OpPut}))
	require.NoError(t, w.Save(path))

	w2 := NewWrapper(NewFlatBackend(3, MetricL2))
	err := w2.Load(path)
	assert.Error(t, err)
	assert.Equal(t, StateBuildError, w2.State())
}

func TestWrapperRebuildFromRangeReplaysSource(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	require.NoError(t, w.OnCommit(CommitItem{ID: 1, Vector: []float32{1, 1}, Op: OpPut}))
	w.MarkReady()

	err := w.RebuildFromRange(func(yield func(CommitItem) error) error {
		if err := yield(CommitItem{ID: 5, Vector: []float32{5, 5}, Op: OpPut}); err != nil {
			return err
		}
		return yield(CommitItem{ID: 6, Vector: []float32{6, 6}, Op: OpPut})
	})
	require.NoError(t, err)
	assert.True(t, w.IsReady())
	assert.Equal(t, int64(2), w.Count())

	results, err := w.Search(Query{Vector: []float32{1, 1}}, 10, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(1), r.ID, "rebuild must replace, not append to, prior contents")
	}
}

func TestWrapperRebuildFromRangeFailureMarksBuildError(t *testing.T) {
	w := NewWrapper(NewFlatBackend(2, MetricL2))
	w.MarkReady()

	boom := errors.New("source failed")
	err := w.RebuildFromRange(func(yield func(CommitItem) error) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateBuildError, w.State())
}

func TestBitmapFilterAllowsOnlyGivenIDs(t *testing.T) {
	f := NewBitmapFilter(1, 3, 5)
	assert.True(t, f.Allowed(1))
	assert.False(t, f.Allowed(2))
	assert.True(t, f.Allowed(5))
}
