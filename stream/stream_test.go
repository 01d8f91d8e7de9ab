package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualYJD/dingo-store/engine"
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

func newTestScanner(t *testing.T) *mvcc.Scanner {
	t.Helper()
	adapter := engine.NewMemAdapter()
	snap, err := adapter.Snapshot()
	require.NoError(t, err)
	txn := mvcc.NewRoTxn(snap, 100)
	return mvcc.NewScanner(txn, []byte("a"), nil)
}

func withFrozenClock(t *testing.T, at time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = orig })
}

func TestOpenAssignsDistinctIncreasingIDs(t *testing.T) {
	r := NewRegistry()
	id1 := r.Open(newTestScanner(t), nil, 100, locktable.New(), time.Minute)
	id2 := r.Open(newTestScanner(t), nil, 100, locktable.New(), time.Minute)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, r.Len())
}

func TestResumeReturnsStoredContext(t *testing.T) {
	r := NewRegistry()
	locks := locktable.New()
	id := r.Open(newTestScanner(t), []byte("z"), 50, locks, time.Minute)

	scanner, endKey, limit, gotLocks, cErr := r.Resume(id)
	require.Nil(t, cErr)
	assert.NotNil(t, scanner)
	assert.Equal(t, []byte("z"), endKey)
	assert.Equal(t, 50, limit)
	assert.Same(t, locks, gotLocks)
}

func TestResumeUnknownStreamIDReturnsStreamExpired(t *testing.T) {
	r := NewRegistry()
	_, _, _, _, cErr := r.Resume(12345)
	require.NotNil(t, cErr)
	assert.Equal(t, errcode.StreamExpired, cErr.Code)
}

func TestResumeAfterExpiryReturnsStreamExpiredAndRemovesEntry(t *testing.T) {
	start := time.Unix(1000, 0)
	withFrozenClock(t, start)

	r := NewRegistry()
	id := r.Open(newTestScanner(t), nil, 10, locktable.New(), time.Second)

	now = func() time.Time { return start.Add(2 * time.Second) }
	_, _, _, _, cErr := r.Resume(id)
	require.NotNil(t, cErr)
	assert.Equal(t, errcode.StreamExpired, cErr.Code)
	assert.Equal(t, 0, r.Len())
}

func TestResumeSlidesExpiryForward(t *testing.T) {
	start := time.Unix(1000, 0)
	withFrozenClock(t, start)

	r := NewRegistry()
	id := r.Open(newTestScanner(t), nil, 10, locktable.New(), time.Second)

	now = func() time.Time { return start.Add(900 * time.Millisecond) }
	_, _, _, _, cErr := r.Resume(id)
	require.Nil(t, cErr)

	// Without the slide this would already be past the original 1s TTL.
	now = func() time.Time { return start.Add(1500 * time.Millisecond) }
	_, _, _, _, cErr = r.Resume(id)
	require.Nil(t, cErr)
}

func TestCloseRemovesStream(t *testing.T) {
	r := NewRegistry()
	id := r.Open(newTestScanner(t), nil, 10, locktable.New(), time.Minute)
	r.Close(id)
	assert.Equal(t, 0, r.Len())

	_, _, _, _, cErr := r.Resume(id)
	require.NotNil(t, cErr)
}

func TestSweepReapsOnlyExpiredStreams(t *testing.T) {
	start := time.Unix(2000, 0)
	withFrozenClock(t, start)

	r := NewRegistry()
	r.Open(newTestScanner(t), nil, 10, locktable.New(), time.Second)
	r.Open(newTestScanner(t), nil, 10, locktable.New(), 10*time.Minute)

	now = func() time.Time { return start.Add(2 * time.Second) }
	reaped := r.Sweep()
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, r.Len())
}
