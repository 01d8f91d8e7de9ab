package txn

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/mvcc"
)

// BatchRollbackRequest aborts a transaction outright, writing Rollback
// Write records for every key given.
type BatchRollbackRequest struct {
	Keys    [][]byte
	StartTS uint64
}

// BatchRollbackResult carries one KeyResult per key that could not be
// rolled back (spec 4.5: LockNotExistAndAlreadyCommitted).
type BatchRollbackResult struct {
	Errors []KeyResult
}

// BatchRollback runs spec 4.5's BatchRollback state machine.
func (e *Engine) BatchRollback(req *BatchRollbackRequest) (*BatchRollbackResult, *errcode.Error) {
	result := &BatchRollbackResult{}
	who := nextWho()

	err := e.withLatches(who, req.Keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		for _, key := range req.Keys {
			kr, err := e.rollbackKey(txn, key, after)
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

// rollbackKey writes a Rollback Write record for key under txn.StartTS, or
// reports why it can't (already committed under a different outcome).
// Shared by BatchRollback and ResolveLock's commit_ts==0 path.
func (e *Engine) rollbackKey(txn *mvcc.Txn, key []byte, after *[]func()) (*KeyResult, error) {
	lock, err := txn.GetLock(key)
	if err != nil {
		return nil, err
	}

	if lock == nil || lock.StartTS != txn.StartTS {
		existingWrite, commitTS, err := txn.CurrentWrite(key)
		if err != nil {
			return nil, err
		}
		if existingWrite == nil {
			// Prewrite's lock record was presumably lost; protect the
			// primary by inserting the rollback marker anyway.
			txn.PutWrite(key, txn.StartTS, &mvcc.Write{StartTS: txn.StartTS, Kind: mvcc.KindRollback})
			return nil, nil
		}
		if existingWrite.Kind == mvcc.KindRollback {
			return nil, nil // already rolled back
		}
		return &KeyResult{Key: key, TxnResult: errcode.TxnResult{AlreadyCommitted: &errcode.AlreadyCommittedInfo{
			StartTS: txn.StartTS, CommitTS: commitTS,
		}}}, nil
	}

	if lock.Kind == mvcc.KindPut && lock.ShortValue == nil {
		txn.DeleteValue(key)
	}
	txn.PutWrite(key, txn.StartTS, &mvcc.Write{StartTS: txn.StartTS, Kind: mvcc.KindRollback})
	txn.DeleteLock(key)
	k := key
	*after = append(*after, func() { e.Locks.Delete(k) })
	return nil, nil
}
