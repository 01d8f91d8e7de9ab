package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualYJD/dingo-store/engine"
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/index"
	"github.com/visualYJD/dingo-store/region"
	"github.com/visualYJD/dingo-store/scheduler"
	"github.com/visualYJD/dingo-store/txn"
)

func newTestServer(t *testing.T) (*Server, *Region) {
	t.Helper()
	sched, err := scheduler.New(scheduler.Config{
		ReadWorkers: 1, ReadWorkerQueueCapacity: 8, ReadConcurrency: 2,
		WriteWorkers: 1, WriteWorkerQueueCapacity: 8, WriteConcurrency: 2,
		BackgroundQueueCapacity: 4, BackgroundConcurrency: 1, MaxBackgroundTaskCount: 100,
	})
	require.NoError(t, err)
	t.Cleanup(sched.Stop)

	s := NewServer(sched, 1000)
	meta := region.NewMeta(1, []byte("a"), []byte("z"), nil)
	r := NewRegion(meta, engine.NewMemAdapter(), nil)
	s.AddRegion(r)
	return s, r
}

func TestGetUnknownKeyReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	resp, cErr := s.Get(&GetRequest{Key: []byte("m"), StartTS: 10, Epoch: region.Epoch{Version: 1, ConfVersion: 1}})
	require.Nil(t, cErr)
	assert.True(t, resp.NotFound)
}

func TestGetKeyOutsideAnyRegionReturnsRegionNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	_, cErr := s.Get(&GetRequest{Key: []byte("zz"), StartTS: 10, Epoch: region.Epoch{Version: 1, ConfVersion: 1}})
	require.NotNil(t, cErr)
	assert.Equal(t, errcode.RegionNotFound, cErr.Code)
}

func TestGetStaleEpochReturnsEpochNotMatch(t *testing.T) {
	s, _ := newTestServer(t)
	_, cErr := s.Get(&GetRequest{Key: []byte("m"), StartTS: 10, Epoch: region.Epoch{Version: 99, ConfVersion: 1}})
	require.NotNil(t, cErr)
}

func TestPrewriteThenCommitThenGetSeesValue(t *testing.T) {
	s, _ := newTestServer(t)
	epoch := region.Epoch{Version: 1, ConfVersion: 1}

	_, cErr := s.Prewrite(&txn.PrewriteRequest{
		Mutations: []txn.Mutation{{Op: txn.OpPut, Key: []byte("m"), Value: []byte("v1")}},
		Primary:   []byte("m"),
		StartTS:   10,
		LockTTL:   1000,
	}, epoch)
	require.Nil(t, cErr)

	_, cErr = s.Commit(&txn.CommitRequest{Keys: [][]byte{[]byte("m")}, StartTS: 10, CommitTS: 11}, epoch)
	require.Nil(t, cErr)

	resp, cErr := s.Get(&GetRequest{Key: []byte("m"), StartTS: 20, Epoch: epoch})
	require.Nil(t, cErr)
	assert.False(t, resp.NotFound)
	assert.Equal(t, "v1", string(resp.Value))
}

func TestScanReturnsAllPairsWithinLimit(t *testing.T) {
	s, _ := newTestServer(t)
	epoch := region.Epoch{Version: 1, ConfVersion: 1}

	for _, k := range []string{"b", "c", "d"} {
		_, cErr := s.Prewrite(&txn.PrewriteRequest{
			Mutations: []txn.Mutation{{Op: txn.OpPut, Key: []byte(k), Value: []byte("v-" + k)}},
			Primary:   []byte(k),
			StartTS:   10,
			LockTTL:   1000,
		}, epoch)
		require.Nil(t, cErr)
		_, cErr = s.Commit(&txn.CommitRequest{Keys: [][]byte{[]byte(k)}, StartTS: 10, CommitTS: 11}, epoch)
		require.Nil(t, cErr)
	}

	resp, cErr := s.Scan(&ScanRequest{StartKey: []byte("a"), EndKey: []byte("z"), StartTS: 20, Limit: 10, Epoch: epoch})
	require.Nil(t, cErr)
	assert.True(t, resp.Exhausted)
	assert.Equal(t, 0, int(resp.StreamID))
	assert.Len(t, resp.Pairs, 3)
}

func TestScanBeyondStreamThresholdOpensAndResumesStream(t *testing.T) {
	s, r := newTestServer(t)
	_ = r
	s.StreamMessageMaxLimitSize = 1
	epoch := region.Epoch{Version: 1, ConfVersion: 1}

	for _, k := range []string{"b", "c", "d"} {
		_, cErr := s.Prewrite(&txn.PrewriteRequest{
			Mutations: []txn.Mutation{{Op: txn.OpPut, Key: []byte(k), Value: []byte("v-" + k)}},
			Primary:   []byte(k),
			StartTS:   10,
			LockTTL:   1000,
		}, epoch)
		require.Nil(t, cErr)
		_, cErr = s.Commit(&txn.CommitRequest{Keys: [][]byte{[]byte(k)}, StartTS: 10, CommitTS: 11}, epoch)
		require.Nil(t, cErr)
	}

	resp, cErr := s.Scan(&ScanRequest{StartKey: []byte("a"), EndKey: []byte("z"), StartTS: 20, Limit: 2, Epoch: epoch})
	require.Nil(t, cErr)
	assert.False(t, resp.Exhausted)
	assert.NotEqual(t, uint64(0), resp.StreamID)
	assert.Len(t, resp.Pairs, 2)

	resp2, cErr := s.Scan(&ScanRequest{StreamID: resp.StreamID})
	require.Nil(t, cErr)
	assert.True(t, resp2.Exhausted)
	assert.Len(t, resp2.Pairs, 1)
}

func TestVectorSearchWithoutIndexReturnsIndexNotReady(t *testing.T) {
	s, _ := newTestServer(t)
	_, cErr := s.VectorSearch(&VectorSearchRequest{
		Key:   []byte("m"),
		Query: index.Query{Vector: []float32{1, 2}},
		TopK:  3,
		Epoch: region.Epoch{Version: 1, ConfVersion: 1},
	})
	require.NotNil(t, cErr)
}

func TestVectorSearchReturnsRankedResults(t *testing.T) {
	s, r := newTestServer(t)
	backend := index.NewFlatBackend(2, index.MetricL2)
	r.Index = index.NewWrapper(backend)
	r.Index.MarkReady()
	require.NoError(t, r.Index.OnCommit(index.CommitItem{ID: 1, Vector: []float32{0, 0}, Op: index.OpPut}))
	require.NoError(t, r.Index.OnCommit(index.CommitItem{ID: 2, Vector: []float32{10, 10}, Op: index.OpPut}))

	resp, cErr := s.VectorSearch(&VectorSearchRequest{
		Key:   []byte("m"),
		Query: index.Query{Vector: []float32{0.1, 0.1}},
		TopK:  1,
		Epoch: region.Epoch{Version: 1, ConfVersion: 1},
	})
	require.Nil(t, cErr)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, uint64(1), resp.Results[0].ID)
}

func TestStartGCSubmitsThroughSchedulerBackgroundQueue(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Occupy the single background goroutine so GC passes stay pending
	// behind it instead of finishing before the poll can observe them.
	block := make(chan struct{})
	defer close(block)
	require.Nil(t, s.Scheduler.SubmitBackground(func() { <-block }))

	go s.StartGC(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Scheduler.Background.Pending() > 1
	}, time.Second, time.Millisecond, "gc pass never reached the background queue")
}
