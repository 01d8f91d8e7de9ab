package txn

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/mvcc"
)

// ResolveLockRequest resolves every lock of StartTS in the region (or just
// Keys, if given) to the same outcome: rollback if CommitTS is 0, commit
// at CommitTS otherwise (spec 4.5).
type ResolveLockRequest struct {
	StartTS  uint64
	CommitTS uint64
	Keys     [][]byte
}

// ResolveLockResult carries one KeyResult per key that could not be
// resolved to the requested outcome.
type ResolveLockResult struct {
	Errors []KeyResult
}

// ResolveLock runs spec 4.5's ResolveLock operation.
func (e *Engine) ResolveLock(req *ResolveLockRequest) (*ResolveLockResult, *errcode.Error) {
	keys := req.Keys
	if keys == nil {
		snap, err := e.Store.Snapshot()
		if err != nil {
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		pairs, err := mvcc.AllLocksForTxn(snap, req.StartTS)
		snap.Close()
		if err != nil {
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		for _, p := range pairs {
			keys = append(keys, p.Key)
		}
	}
	if len(keys) == 0 {
		return &ResolveLockResult{}, nil
	}

	result := &ResolveLockResult{}
	who := nextWho()
	err := e.withLatches(who, keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		for _, key := range keys {
			var kr *KeyResult
			var err error
			if req.CommitTS == 0 {
				kr, err = e.rollbackKey(txn, key, after)
			} else {
				kr, err = e.commitKey(txn, key, req.CommitTS, after)
			}
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
