package txn

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/mvcc"
)

// CommitRequest is the second phase of a percolator commit.
type CommitRequest struct {
	Keys     [][]byte
	StartTS  uint64
	CommitTS uint64
}

// CommitResult carries one KeyResult per key that could not be committed.
type CommitResult struct {
	Errors []KeyResult
}

// Commit runs spec 4.5's Commit state machine over every key.
func (e *Engine) Commit(req *CommitRequest) (*CommitResult, *errcode.Error) {
	if req.CommitTS <= req.StartTS {
		return nil, errcode.Newf(errcode.IllegalParameter, "commit_ts must be greater than start_ts")
	}
	result := &CommitResult{}
	who := nextWho()

	err := e.withLatches(who, req.Keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		for _, key := range req.Keys {
			kr, err := e.commitKey(txn, key, req.CommitTS, after)
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

// commitKey commits a single key already locked by txn.StartTS, or reports
// why it can't be (spec 4.5's TxnRolledBack/TxnLockNotFound/idempotent-noop
// cases).
func (e *Engine) commitKey(txn *mvcc.Txn, key []byte, commitTS uint64, after *[]func()) (*KeyResult, error) {
	lock, err := txn.GetLock(key)
	if err != nil {
		return nil, err
	}

	if lock == nil || lock.StartTS != txn.StartTS {
		write, _, err := txn.CurrentWrite(key)
		if err != nil {
			return nil, err
		}
		if write == nil {
			return &KeyResult{Key: key, TxnResult: errcode.TxnResult{TxnNotFound: &errcode.TxnNotFoundInfo{
				StartTS: txn.StartTS, Key: key,
			}}}, nil
		}
		if write.Kind == mvcc.KindRollback {
			return &KeyResult{Key: key, TxnResult: errcode.TxnResult{RolledBack: true}}, nil
		}
		// Already committed by an earlier, possibly retried, Commit call.
		return nil, nil
	}

	txn.PutWrite(key, commitTS, &mvcc.Write{StartTS: txn.StartTS, Kind: lock.Kind, ShortValue: lock.ShortValue})
	txn.DeleteLock(key)
	*after = append(*after, func() { e.Locks.Delete(key) })
	return nil, nil
}
