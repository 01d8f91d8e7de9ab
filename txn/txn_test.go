package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualYJD/dingo-store/engine"
	"github.com/visualYJD/dingo-store/latches"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

func newTestEngine() *Engine {
	return New(engine.NewMemAdapter(), latches.New(), locktable.New())
}

func readAt(t *testing.T, e *Engine, key []byte, ts uint64) []byte {
	t.Helper()
	snap, err := e.Store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	txn := mvcc.NewRoTxn(snap, ts)
	v, err := txn.GetValue(key)
	require.NoError(t, err)
	return v
}

// TestOptimisticCommitHappyPath mirrors spec.md's end-to-end scenario 1.
func TestOptimisticCommitHappyPath(t *testing.T) {
	e := newTestEngine()

	pr, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{
			{Op: OpPut, Key: []byte("k1"), Value: []byte("v1")},
			{Op: OpPut, Key: []byte("k2"), Value: []byte("v2")},
		},
		Primary: []byte("k1"),
		StartTS: 100,
		LockTTL: 3000,
	})
	require.Nil(t, cErr)
	assert.Empty(t, pr.Errors)

	cr, cErr := e.Commit(&CommitRequest{Keys: [][]byte{[]byte("k1"), []byte("k2")}, StartTS: 100, CommitTS: 110})
	require.Nil(t, cErr)
	assert.Empty(t, cr.Errors)

	assert.Equal(t, []byte("v1"), readAt(t, e, []byte("k1"), 120))
	assert.Equal(t, []byte("v2"), readAt(t, e, []byte("k2"), 120))
	assert.Nil(t, readAt(t, e, []byte("k1"), 95))
}

// TestWriteWriteConflict mirrors spec.md's end-to-end scenario 2.
func TestWriteWriteConflict(t *testing.T) {
	e := newTestEngine()

	prA, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("vA")}},
		Primary:   []byte("k"),
		StartTS:   100,
		LockTTL:   3000,
	})
	require.Nil(t, cErr)
	require.Empty(t, prA.Errors)

	prB, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("vB")}},
		Primary:   []byte("k"),
		StartTS:   105,
		LockTTL:   3000,
	})
	require.Nil(t, cErr)
	require.Len(t, prB.Errors, 1)
	require.NotNil(t, prB.Errors[0].TxnResult.Locked)
	assert.Equal(t, uint64(100), prB.Errors[0].TxnResult.Locked.StartTS)

	_, cErr = e.Commit(&CommitRequest{Keys: [][]byte{[]byte("k")}, StartTS: 100, CommitTS: 110})
	require.Nil(t, cErr)

	prB2, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("vB")}},
		Primary:   []byte("k"),
		StartTS:   120,
		LockTTL:   3000,
	})
	require.Nil(t, cErr)
	require.Len(t, prB2.Errors, 1)
	require.NotNil(t, prB2.Errors[0].TxnResult.WriteConflict)
	assert.Equal(t, uint64(110), prB2.Errors[0].TxnResult.WriteConflict.ConflictCommitTS)
}

// TestPessimisticRetry mirrors spec.md's end-to-end scenario 3.
func TestPessimisticRetry(t *testing.T) {
	e := newTestEngine()

	_, cErr := e.PessimisticLock(&PessimisticLockRequest{
		Mutations:   []Mutation{{Op: OpLock, Key: []byte("k")}},
		Primary:     []byte("k"),
		StartTS:     100,
		ForUpdateTS: 100,
		LockTTL:     3000,
	})
	require.Nil(t, cErr)

	// An external transaction commits k2 at commit_ts=120.
	_, cErr = e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k2")}},
		Primary:   []byte("k2"),
		StartTS:   115,
		LockTTL:   3000,
	})
	require.Nil(t, cErr)
	_, cErr = e.Commit(&CommitRequest{Keys: [][]byte{[]byte("k2")}, StartTS: 115, CommitTS: 120})
	require.Nil(t, cErr)
	// Directly commit a write at k for the scenario (external actor writing
	// over the pessimistically-locked key requires resolving that lock
	// first in real deployments; here we exercise Prewrite's pessimistic
	// check against a Write record placed at commit_ts=120 by construction).
	forceCommittedWrite(t, e, []byte("k"), 116, 120)

	pr, cErr := e.Prewrite(&PrewriteRequest{
		Mutations:         []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("v")}},
		Primary:           []byte("k"),
		StartTS:           100,
		LockTTL:           3000,
		PessimisticChecks: []bool{true},
		ForUpdateTSChecks: []uint64{100},
	})
	require.Nil(t, cErr)
	require.Len(t, pr.Errors, 1)
	require.NotNil(t, pr.Errors[0].TxnResult.WriteConflict)
	assert.True(t, pr.Errors[0].TxnResult.WriteConflict.RetryWithNewForUpdateTS)
}

func forceCommittedWrite(t *testing.T, e *Engine, key []byte, startTS, commitTS uint64) {
	t.Helper()
	snap, err := e.Store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	txn := mvcc.NewTxn(snap, startTS)
	txn.PutWrite(key, commitTS, &mvcc.Write{StartTS: startTS, Kind: mvcc.KindPut, ShortValue: []byte("external")})
	require.NoError(t, e.Store.Write(txn.Writes()))
}

// TestPrimaryFailureResolved mirrors spec.md's end-to-end scenario 4.
func TestPrimaryFailureResolved(t *testing.T) {
	e := newTestEngine()

	pr, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{
			{Op: OpPut, Key: []byte("k1"), Value: []byte("v1")},
			{Op: OpPut, Key: []byte("k2"), Value: []byte("v2")},
			{Op: OpPut, Key: []byte("k3"), Value: []byte("v3")},
		},
		Primary: []byte("k1"),
		StartTS: 100,
		LockTTL: 1000,
	})
	require.Nil(t, cErr)
	require.Empty(t, pr.Errors)

	// Client crashes. Another txn later hits KeyIsLocked on k2 (not
	// exercised directly), and drives recovery through CheckTxnStatus.
	status, cErr := e.CheckTxnStatus(&CheckTxnStatusRequest{
		PrimaryKey:    []byte("k1"),
		LockTS:        100,
		CallerStartTS: 200,
		CurrentTS:     2000,
	})
	require.Nil(t, cErr)
	assert.Equal(t, StatusLockNotExist, status.Status)

	resolve, cErr := e.ResolveLock(&ResolveLockRequest{StartTS: 100, CommitTS: 0, Keys: [][]byte{[]byte("k2"), []byte("k3")}})
	require.Nil(t, cErr)
	assert.Empty(t, resolve.Errors)

	// The lock table mirror must have been cleared for k1 by CheckTxnStatus.
	assert.Nil(t, e.Locks.Get([]byte("k1")))
	assert.Nil(t, e.Locks.Get([]byte("k2")))
	assert.Nil(t, e.Locks.Get([]byte("k3")))
}

func TestHeartBeatExtendsTTL(t *testing.T) {
	e := newTestEngine()
	_, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("v")}},
		Primary:   []byte("k"),
		StartTS:   100,
		LockTTL:   1000,
	})
	require.Nil(t, cErr)

	hb, cErr := e.HeartBeat(&HeartBeatRequest{PrimaryKey: []byte("k"), StartTS: 100, AdviseTTL: 5000})
	require.Nil(t, cErr)
	assert.True(t, hb.Found)
	assert.Equal(t, uint64(5000), hb.LockTTL)
	assert.Equal(t, uint64(5000), e.Locks.Get([]byte("k")).TTLMillis)
}

func TestPessimisticRollbackOnlyTouchesPessimisticLocks(t *testing.T) {
	e := newTestEngine()
	_, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k1"), Value: []byte("v1")}},
		Primary:   []byte("k1"),
		StartTS:   100,
		LockTTL:   1000,
	})
	require.Nil(t, cErr)

	_, cErr = e.PessimisticLock(&PessimisticLockRequest{
		Mutations:   []Mutation{{Op: OpLock, Key: []byte("k2")}},
		Primary:     []byte("k2"),
		StartTS:     100,
		ForUpdateTS: 100,
		LockTTL:     1000,
	})
	require.Nil(t, cErr)

	cErr = e.PessimisticRollback(&PessimisticRollbackRequest{Keys: [][]byte{[]byte("k1"), []byte("k2")}, StartTS: 100})
	require.Nil(t, cErr)

	assert.NotNil(t, e.Locks.Get([]byte("k1")), "optimistic lock must survive PessimisticRollback")
	assert.Nil(t, e.Locks.Get([]byte("k2")), "pessimistic lock must be cleared")
}

func TestBatchRollbackClearsLockAndValue(t *testing.T) {
	e := newTestEngine()
	_, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("v")}},
		Primary:   []byte("k"),
		StartTS:   100,
		LockTTL:   1000,
	})
	require.Nil(t, cErr)

	br, cErr := e.BatchRollback(&BatchRollbackRequest{Keys: [][]byte{[]byte("k")}, StartTS: 100})
	require.Nil(t, cErr)
	assert.Empty(t, br.Errors)
	assert.Nil(t, e.Locks.Get([]byte("k")))

	assert.Nil(t, readAt(t, e, []byte("k"), 200))

	br2, cErr := e.BatchRollback(&BatchRollbackRequest{Keys: [][]byte{[]byte("k")}, StartTS: 100})
	require.Nil(t, cErr)
	assert.Empty(t, br2.Errors, "rolling back an already-rolled-back key is a no-op")
}

func TestBatchRollbackAfterCommitReportsAlreadyCommitted(t *testing.T) {
	e := newTestEngine()
	_, cErr := e.Prewrite(&PrewriteRequest{
		Mutations: []Mutation{{Op: OpPut, Key: []byte("k"), Value: []byte("v")}},
		Primary:   []byte("k"),
		StartTS:   100,
		LockTTL:   1000,
	})
	require.Nil(t, cErr)
	_, cErr = e.Commit(&CommitRequest{Keys: [][]byte{[]byte("k")}, StartTS: 100, CommitTS: 110})
	require.Nil(t, cErr)

	br, cErr := e.BatchRollback(&BatchRollbackRequest{Keys: [][]byte{[]byte("k")}, StartTS: 100})
	require.Nil(t, cErr)
	require.Len(t, br.Errors, 1)
	require.NotNil(t, br.Errors[0].TxnResult.AlreadyCommitted)
	assert.Equal(t, uint64(110), br.Errors[0].TxnResult.AlreadyCommitted.CommitTS)
}
