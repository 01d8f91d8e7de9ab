package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualYJD/dingo-store/engine"
)

func newTestAdapter(t *testing.T) *engine.MemAdapter {
	t.Helper()
	return engine.NewMemAdapter()
}

func commitPut(t *testing.T, a *engine.MemAdapter, key, value []byte, startTS, commitTS uint64) {
	t.Helper()
	txn := NewTxn(mustSnapshot(t, a), startTS)
	if len(value) <= ShortValueThreshold {
		txn.PutWrite(key, commitTS, &Write{StartTS: startTS, Kind: KindPut, ShortValue: value})
	} else {
		txn.PutValue(key, value)
		txn.PutWrite(key, commitTS, &Write{StartTS: startTS, Kind: KindPut})
	}
	require.NoError(t, a.Write(txn.Writes()))
}

func mustSnapshot(t *testing.T, a *engine.MemAdapter) engine.Snapshot {
	t.Helper()
	snap, err := a.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestGetValueSeesCommittedShortValue(t *testing.T) {
	a := newTestAdapter(t)
	commitPut(t, a, []byte("k1"), []byte("v1"), 5, 6)

	txn := NewRoTxn(mustSnapshot(t, a), 10)
	v, err := txn.GetValue([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestGetValueInvisibleBeforeCommit(t *testing.T) {
	a := newTestAdapter(t)
	commitPut(t, a, []byte("k1"), []byte("v1"), 5, 6)

	txn := NewRoTxn(mustSnapshot(t, a), 5) // before commit_ts=6
	v, err := txn.GetValue([]byte("k1"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestGetValueLongValueStoredInDataCF(t *testing.T) {
	a := newTestAdapter(t)
	long := make([]byte, ShortValueThreshold+1)
	for i := range long {
		long[i] = byte(i)
	}
	commitPut(t, a, []byte("k1"), long, 5, 6)

	txn := NewRoTxn(mustSnapshot(t, a), 10)
	v, err := txn.GetValue([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, long, v)
}

func TestGetValueAfterDelete(t *testing.T) {
	a := newTestAdapter(t)
	commitPut(t, a, []byte("k1"), []byte("v1"), 5, 6)

	txn := NewTxn(mustSnapshot(t, a), 8)
	txn.PutWrite([]byte("k1"), 9, &Write{StartTS: 8, Kind: KindDelete})
	require.NoError(t, a.Write(txn.Writes()))

	ro := NewRoTxn(mustSnapshot(t, a), 20)
	v, err := ro.GetValue([]byte("k1"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLockRoundTripThroughTxn(t *testing.T) {
	a := newTestAdapter(t)
	txn := NewTxn(mustSnapshot(t, a), 5)
	lock := &Lock{Primary: []byte("k1"), StartTS: 5, Kind: KindPut}
	txn.PutLock([]byte("k1"), lock)
	require.NoError(t, a.Write(txn.Writes()))

	ro := NewRoTxn(mustSnapshot(t, a), 5)
	got, err := ro.GetLock([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, lock, got)

	del := NewTxn(mustSnapshot(t, a), 5)
	del.DeleteLock([]byte("k1"))
	require.NoError(t, a.Write(del.Writes()))

	got2, err := NewRoTxn(mustSnapshot(t, a), 5).GetLock([]byte("k1"))
	require.NoError(t, err)
	assert.Nil(t, got2)
}

func TestCurrentWriteFindsOwnCommit(t *testing.T) {
	a := newTestAdapter(t)
	commitPut(t, a, []byte("k1"), []byte("v1"), 5, 6)

	txn := NewRoTxn(mustSnapshot(t, a), 5)
	w, commitTS, err := txn.CurrentWrite([]byte("k1"))
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, uint64(5), w.StartTS)
	assert.Equal(t, uint64(6), commitTS)
}

func TestCurrentWriteNoneForUnrelatedTxn(t *testing.T) {
	a := newTestAdapter(t)
	commitPut(t, a, []byte("k1"), []byte("v1"), 5, 6)

	txn := NewRoTxn(mustSnapshot(t, a), 100)
	w, _, err := txn.CurrentWrite([]byte("k1"))
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestMostRecentWriteIgnoresStartTS(t *testing.T) {
	a := newTestAdapter(t)
	commitPut(t, a, []byte("k1"), []byte("v1"), 5, 6)
	commitPut(t, a, []byte("k1"), []byte("v2"), 20, 21)

	txn := NewRoTxn(mustSnapshot(t, a), 1) // StartTS irrelevant to MostRecentWrite
	w, commitTS, err := txn.MostRecentWrite([]byte("k1"))
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, uint64(20), w.StartTS)
	assert.Equal(t, uint64(21), commitTS)
}

func TestAllLocksForTxnFiltersByStartTS(t *testing.T) {
	a := newTestAdapter(t)
	txn := NewTxn(mustSnapshot(t, a), 5)
	txn.PutLock([]byte("k1"), &Lock{Primary: []byte("k1"), StartTS: 5})
	txn.PutLock([]byte("k2"), &Lock{Primary: []byte("k1"), StartTS: 5})
	txn.PutLock([]byte("k3"), &Lock{Primary: []byte("k3"), StartTS: 6})
	require.NoError(t, a.Write(txn.Writes()))

	pairs, err := AllLocksForTxn(mustSnapshot(t, a), 5)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}
