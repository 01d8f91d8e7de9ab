// Package txn implements the percolator Txn Engine from spec.md section
// 4.5: Prewrite, Commit, PessimisticLock, PessimisticRollback,
// BatchRollback, CheckTxnStatus, ResolveLock, HeartBeat. Grounded on
// talent-plan-tinykv/kv/transaction/commands/{prewrite,resolve}.go and
// kv/tikv/storage/{commit,rollback}.go for the per-key state-machine
// checks, and kv/tikv/transaction/mvcc/lock.go's AllLocksForTxn for
// ResolveLock's "all locks of start_ts" fan-out. Unlike the teacher's
// Command/RunCommand split (built around a gRPC request type per command),
// every operation here is a plain method on Engine, since this package
// owns the whole percolator surface rather than one command class per
// gRPC method.
package txn

import (
	"strconv"
	"sync/atomic"

	"github.com/visualYJD/dingo-store/engine"
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/latches"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

// Engine runs the percolator state machine for one region against its KV
// Adapter, latch table, and memory lock table.
type Engine struct {
	Store   engine.Adapter
	Latches *latches.Latches
	Locks   *locktable.Table
}

// New builds an Engine over the given per-region collaborators.
func New(store engine.Adapter, l *latches.Latches, locks *locktable.Table) *Engine {
	return &Engine{Store: store, Latches: l, Locks: locks}
}

// Op is a mutation's intended write kind, mirroring the Put/Delete/Lock
// kinds of a Write record (spec 3).
type Op int

const (
	OpPut Op = iota
	OpDelete
	OpLock
)

// Mutation is one key's requested change within Prewrite or
// PessimisticLock.
type Mutation struct {
	Op    Op
	Key   []byte
	Value []byte
}

// KeyResult pairs a key with the structured conflict it hit; a nil
// *KeyResult from an internal helper means the key succeeded.
type KeyResult struct {
	Key       []byte
	TxnResult errcode.TxnResult
}

var whoSeq uint64

// nextWho mints a unique latch-holder identifier for one Engine call.
// Latches.Acquire/Release key on this string purely to tell concurrent
// callers apart; it carries no other meaning.
func nextWho() string {
	return strconv.FormatUint(atomic.AddUint64(&whoSeq, 1), 10)
}

// withLatches serializes a batch of key writes: it acquires who's latches,
// runs fn against a fresh snapshot-backed Txn at startTS, applies the
// buffered writes atomically, and only then runs the after-commit
// callbacks fn queued (typically locktable updates) — so the in-memory
// lock mirror never reflects a write that didn't actually land.
func (e *Engine) withLatches(who string, keys [][]byte, startTS uint64, fn func(txn *mvcc.Txn, after *[]func()) error) error {
	e.Latches.Acquire(who, keys)
	defer e.Latches.Release(who, keys)

	snap, err := e.Store.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	txn := mvcc.NewTxn(snap, startTS)
	var after []func()
	if err := fn(txn, &after); err != nil {
		return err
	}
	if len(txn.Writes()) > 0 {
		if err := e.Store.Write(txn.Writes()); err != nil {
			return err
		}
	}
	for _, cb := range after {
		cb()
	}
	return nil
}

func mutationKeys(muts []Mutation) [][]byte {
	keys := make([][]byte, len(muts))
	for i, m := range muts {
		keys[i] = m.Key
	}
	return keys
}
