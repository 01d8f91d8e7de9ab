package txn

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

// PrewriteRequest is the first phase of a percolator commit: every key the
// transaction touches, written speculatively and validated for conflicts.
// ForUpdateTSChecks and PessimisticChecks are parallel to Mutations, per
// spec 4.5; both are nil for a purely optimistic transaction.
type PrewriteRequest struct {
	Mutations         []Mutation
	Primary           []byte
	StartTS           uint64
	LockTTL           uint64
	TxnSize           uint64
	ForUpdateTSChecks []uint64
	PessimisticChecks []bool
	Secondaries       [][]byte
	UseAsyncCommit    bool
}

// PrewriteResult carries one KeyResult per mutation that hit a conflict;
// an empty Errors slice means every key prewrote cleanly.
type PrewriteResult struct {
	Errors []KeyResult
}

// Prewrite runs spec 4.5's Prewrite state machine over every mutation in
// the request, under the latches for all of its keys.
func (e *Engine) Prewrite(req *PrewriteRequest) (*PrewriteResult, *errcode.Error) {
	result := &PrewriteResult{}
	who := nextWho()
	keys := mutationKeys(req.Mutations)

	err := e.withLatches(who, keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		for i, m := range req.Mutations {
			var forUpdateTSCheck uint64
			if req.ForUpdateTSChecks != nil {
				forUpdateTSCheck = req.ForUpdateTSChecks[i]
			}
			var pessimisticCheck bool
			if req.PessimisticChecks != nil {
				pessimisticCheck = req.PessimisticChecks[i]
			}
			kr, err := e.prewriteMutation(txn, req, m, forUpdateTSCheck, pessimisticCheck, after)
			if err != nil {
				return err
			}
			if kr != nil {
				result.Errors = append(result.Errors, *kr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errcode.Newf(errcode.EngineIO, err.Error())
	}
	return result, nil
}

// prewriteMutation applies spec 4.5's per-key Prewrite steps. A non-nil
// *KeyResult is a structured conflict, not a Go error.
func (e *Engine) prewriteMutation(txn *mvcc.Txn, req *PrewriteRequest, m Mutation, forUpdateTSCheck uint64, pessimisticCheck bool, after *[]func()) (*KeyResult, error) {
	key := m.Key

	// Step 1: write-write conflict against the latest committed Write. A
	// pessimistic mutation is checked against its for_update_ts instead:
	// PessimisticLock already validated writes up to it, and a newer write
	// means the lock must be re-acquired with a fresh for_update_ts.
	write, writeCommitTS, err := txn.MostRecentWrite(key)
	if err != nil {
		return nil, err
	}
	if write != nil && pessimisticCheck && writeCommitTS > forUpdateTSCheck {
		return &KeyResult{Key: key, TxnResult: errcode.TxnResult{WriteConflict: &errcode.WriteConflictInfo{
			StartTS:                 txn.StartTS,
			ConflictStartTS:         write.StartTS,
			ConflictCommitTS:        writeCommitTS,
			Key:                     key,
			Primary:                 req.Primary,
			RetryWithNewForUpdateTS: true,
		}}}, nil
	}
	if write != nil && !pessimisticCheck && writeCommitTS >= txn.StartTS {
		return &KeyResult{Key: key, TxnResult: errcode.TxnResult{WriteConflict: &errcode.WriteConflictInfo{
			StartTS:          txn.StartTS,
			ConflictStartTS:  write.StartTS,
			ConflictCommitTS: writeCommitTS,
			Key:              key,
			Primary:          req.Primary,
		}}}, nil
	}

	// Step 2: existing lock check.
	existingLock, err := txn.GetLock(key)
	if err != nil {
		return nil, err
	}
	if existingLock != nil && existingLock.StartTS != txn.StartTS {
		return &KeyResult{Key: key, TxnResult: errcode.TxnResult{Locked: &errcode.LockInfo{
			PrimaryKey: existingLock.Primary,
			Key:        key,
			StartTS:    existingLock.StartTS,
			TTLMillis:  existingLock.TTLMillis,
			TxnSize:    existingLock.TxnSize,
		}}}, nil
	}
	if existingLock != nil && existingLock.Kind != mvcc.KindPessimisticLock {
		// Same txn already prewrote this key; idempotent, nothing to do.
		return nil, nil
	}

	// Step 3: pessimistic path — require the matching pessimistic lock and
	// convert it in place to an optimistic one.
	if pessimisticCheck {
		if existingLock == nil || existingLock.Kind != mvcc.KindPessimisticLock {
			return &KeyResult{Key: key, TxnResult: errcode.TxnResult{TxnNotFound: &errcode.TxnNotFoundInfo{
				StartTS: txn.StartTS, Key: key,
			}}}, nil
		}
		if existingLock.ForUpdateTS != forUpdateTSCheck {
			return &KeyResult{Key: key, TxnResult: errcode.TxnResult{WriteConflict: &errcode.WriteConflictInfo{
				StartTS: txn.StartTS, Key: key, Primary: req.Primary, RetryWithNewForUpdateTS: true,
			}}}, nil
		}
	}

	// Step 4: write the new Lock (and inline the value if it fits).
	kind := mvcc.KindPut
	switch m.Op {
	case OpDelete:
		kind = mvcc.KindDelete
	case OpLock:
		kind = mvcc.KindLock
	}

	lock := &mvcc.Lock{
		Primary:        req.Primary,
		StartTS:        txn.StartTS,
		TTLMillis:      req.LockTTL,
		TxnSize:        req.TxnSize,
		Kind:           kind,
		Secondaries:    req.Secondaries,
		UseAsyncCommit: req.UseAsyncCommit,
	}
	if existingLock != nil {
		lock.ForUpdateTS = existingLock.ForUpdateTS
	}
	if kind == mvcc.KindPut && len(m.Value) <= mvcc.ShortValueThreshold {
		lock.ShortValue = m.Value
	}
	txn.PutLock(key, lock)
	if kind == mvcc.KindPut && lock.ShortValue == nil {
		txn.PutValue(key, m.Value)
	}

	*after = append(*after, func() {
		e.Locks.Put(key, &locktable.Entry{
			PrimaryKey: lock.Primary,
			StartTS:    lock.StartTS,
			TTLMillis:  lock.TTLMillis,
			TxnSize:    lock.TxnSize,
		})
	})
	return nil, nil
}
