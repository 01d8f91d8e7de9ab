package txn

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

// PessimisticLockRequest acquires "for update" locks ahead of the eventual
// Prewrite (spec 4.5). Mutations are expected to carry Op=OpLock.
type PessimisticLockRequest struct {
	Mutations    []Mutation
	Primary      []byte
	StartTS      uint64
	ForUpdateTS  uint64
	LockTTL      uint64
	ReturnValues bool
}

// PessimisticLockResult carries one KeyResult per key that conflicted, and
// (when ReturnValues is set) the value visible at StartTS for every key
// that locked cleanly.
type PessimisticLockResult struct {
	Errors []KeyResult
	Values map[string][]byte
}

// PessimisticLock runs spec 4.5's PessimisticLock state machine.
func (e *Engine) PessimisticLock(req *PessimisticLockRequest) (*PessimisticLockResult, *errcode.Error) {
	result := &PessimisticLockResult{}
	if req.ReturnValues {
		result.Values = make(map[string][]byte)
	}
	who := nextWho()
	keys := mutationKeys(req.Mutations)

	err := e.withLatches(who, keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		for _, m := range req.Mutations {
			kr, err := e.pessimisticLockKey(txn, req, m.Key, after)
			if err != nil {
				return err
			}
			if kr != nil {
				result.Errors = append(result.Errors, *kr)
				continue
			}
			if req.ReturnValues {
				v, err := txn.GetValue(m.Key)
				if err != nil {
					return err
				}
				result.Values[string(m.Key)] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, errcode.Newf(errcode.EngineIO, err.Error())
	}
	return result, nil
}

func (e *Engine) pessimisticLockKey(txn *mvcc.Txn, req *PessimisticLockRequest, key []byte, after *[]func()) (*KeyResult, error) {
	write, writeCommitTS, err := txn.MostRecentWrite(key)
	if err != nil {
		return nil, err
	}
	if write != nil && writeCommitTS > req.ForUpdateTS {
		return &KeyResult{Key: key, TxnResult: errcode.TxnResult{WriteConflict: &errcode.WriteConflictInfo{
			StartTS:                 txn.StartTS,
			ConflictStartTS:         write.StartTS,
			ConflictCommitTS:        writeCommitTS,
			Key:                     key,
			Primary:                 req.Primary,
			RetryWithNewForUpdateTS: true,
		}}}, nil
	}

	existingLock, err := txn.GetLock(key)
	if err != nil {
		return nil, err
	}
	if existingLock != nil {
		if existingLock.StartTS != txn.StartTS {
			return &KeyResult{Key: key, TxnResult: errcode.TxnResult{Locked: &errcode.LockInfo{
				PrimaryKey: existingLock.Primary,
				Key:        key,
				StartTS:    existingLock.StartTS,
				TTLMillis:  existingLock.TTLMillis,
				TxnSize:    existingLock.TxnSize,
			}}}, nil
		}
		if existingLock.Kind == mvcc.KindPessimisticLock && existingLock.ForUpdateTS == req.ForUpdateTS {
			return nil, nil // idempotent retry of the same acquisition
		}
	}

	lock := &mvcc.Lock{
		Primary:     req.Primary,
		StartTS:     txn.StartTS,
		ForUpdateTS: req.ForUpdateTS,
		TTLMillis:   req.LockTTL,
		Kind:        mvcc.KindPessimisticLock,
	}
	txn.PutLock(key, lock)
	*after = append(*after, func() {
		e.Locks.Put(key, &locktable.Entry{PrimaryKey: lock.Primary, StartTS: lock.StartTS, TTLMillis: lock.TTLMillis})
	})
	return nil, nil
}

// PessimisticRollbackRequest releases pessimistic locks acquired but never
// converted by Prewrite (spec 4.5: "never touches optimistic locks or
// write records").
type PessimisticRollbackRequest struct {
	Keys    [][]byte
	StartTS uint64
}

// PessimisticRollback deletes the pessimistic-lock records in req.Keys
// that belong to req.StartTS, leaving anything else untouched.
func (e *Engine) PessimisticRollback(req *PessimisticRollbackRequest) *errcode.Error {
	who := nextWho()
	err := e.withLatches(who, req.Keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		for _, key := range req.Keys {
			lock, err := txn.GetLock(key)
			if err != nil {
				return err
			}
			if lock == nil || lock.StartTS != txn.StartTS || lock.Kind != mvcc.KindPessimisticLock {
				continue
			}
			txn.DeleteLock(key)
			k := key
			*after = append(*after, func() { e.Locks.Delete(k) })
		}
		return nil
	})
	if err != nil {
		return errcode.Newf(errcode.EngineIO, err.Error())
	}
	return nil
}
