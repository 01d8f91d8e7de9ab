// Package locktable implements the Memory Lock Table from spec.md section
// 4.4: an in-memory mirror of the durable Lock CF that read paths consult
// directly, instead of reading storage, to detect lock conflicts. Grounded
// on talent-plan-tinykv/kv/tikv/transaction/mvcc/lock.go's
// Lock.IsLockedFor (the "lock.Ts <= txnStartTs => report conflict" check),
// generalized from a per-read storage lookup into a standalone table kept
// up to date by the Txn Engine as it prewrites and resolves locks.
package locktable

import "sync"

// Entry mirrors the fields of a durable Lock record that the read path
// needs to decide whether it's blocked and to build a CheckTxnStatus call.
type Entry struct {
	PrimaryKey []byte
	StartTS    uint64
	TTLMillis  uint64
	TxnSize    uint64
}

// Table is one region's in-memory lock mirror.
type Table struct {
	mu    sync.RWMutex
	locks map[string]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{locks: make(map[string]*Entry)}
}

// Put records key as locked by entry. Called by the Txn Engine whenever it
// durably writes a Lock record (Prewrite, PessimisticLock).
func (t *Table) Put(key []byte, entry *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks[string(key)] = entry
}

// Delete removes key's lock mirror. Called whenever the durable Lock
// record is removed (Commit, rollback paths, ResolveLock).
func (t *Table) Delete(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, string(key))
}

// Get returns the current lock mirror for key, or nil.
func (t *Table) Get(key []byte) *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.locks[string(key)]
}

// Conflict reports the blocking lock for a read at readTS, honoring the
// caller-supplied resolved_locks set (start timestamps the client has
// already resolved and should be treated as transparent, per spec 6's
// context.resolved_locks). Returns nil if the key is not blocking.
func (t *Table) Conflict(key []byte, readTS uint64, resolvedLocks map[uint64]bool) *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.locks[string(key)]
	if !ok {
		return nil
	}
	if e.StartTS > readTS {
		return nil
	}
	if resolvedLocks != nil && resolvedLocks[e.StartTS] {
		return nil
	}
	return e
}

// ConflictsInRange returns the first key in keysInOrder with a blocking
// lock, together with that lock, used by scan
// paths that must report the first conflict encountered rather than
// blocking (spec 4.4: "surface a lock-conflict result ... do NOT block").
// keysInOrder must be supplied by the caller in ascending order (typically
// the same key set the underlying MVCC scan just walked), since Table
// itself is not range-ordered.
func (t *Table) ConflictsInRange(keysInOrder [][]byte, readTS uint64, resolvedLocks map[uint64]bool) (key []byte, entry *Entry) {
	for _, k := range keysInOrder {
		if e := t.Conflict(k, readTS, resolvedLocks); e != nil {
			return k, e
		}
	}
	return nil, nil
}
