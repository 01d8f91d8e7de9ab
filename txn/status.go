package txn

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

// LockStatus is the observable state CheckTxnStatus reports (spec 4.5).
type LockStatus int

const (
	StatusLocked LockStatus = iota
	StatusLockNotExist
	StatusCommitted
	StatusRolledBack
)

// CheckTxnStatusRequest probes the primary lock of the transaction
// identified by LockTS. CurrentTS is the caller's notion of "now", used to
// decide whether the lock's TTL has elapsed; this engine's timestamps
// carry no embedded physical-clock component (spec 3 defines ts only as
// "monotone 64-bit integers from an external oracle"), so TTL expiry is
// checked as CurrentTS >= LockTS + lock.TTLMillis, the same comparison the
// oracle's caller is expected to perform when it mints CurrentTS.
type CheckTxnStatusRequest struct {
	PrimaryKey    []byte
	LockTS        uint64
	CallerStartTS uint64
	CurrentTS     uint64
}

// CheckTxnStatusResult reports one of Locked/LockNotExist/Committed/
// RolledBack; CommitTS is set only for Committed.
type CheckTxnStatusResult struct {
	Status   LockStatus
	LockTTL  uint64
	CommitTS uint64
}

// CheckTxnStatus runs spec 4.5's CheckTxnStatus state machine.
func (e *Engine) CheckTxnStatus(req *CheckTxnStatusRequest) (*CheckTxnStatusResult, *errcode.Error) {
	result := &CheckTxnStatusResult{}
	who := nextWho()
	keys := [][]byte{req.PrimaryKey}

	err := e.withLatches(who, keys, req.LockTS, func(txn *mvcc.Txn, after *[]func()) error {
		lock, err := txn.GetLock(req.PrimaryKey)
		if err != nil {
			return err
		}
		if lock != nil && lock.StartTS == req.LockTS {
			if req.CurrentTS < req.LockTS+lock.TTLMillis {
				result.Status = StatusLocked
				result.LockTTL = lock.TTLMillis
				return nil
			}
			// Expired: protect the primary with a rollback record.
			txn.PutWrite(req.PrimaryKey, lock.StartTS, &mvcc.Write{StartTS: lock.StartTS, Kind: mvcc.KindRollback})
			txn.DeleteLock(req.PrimaryKey)
			*after = append(*after, func() { e.Locks.Delete(req.PrimaryKey) })
			result.Status = StatusLockNotExist
			return nil
		}

		write, commitTS, err := txn.CurrentWrite(req.PrimaryKey)
		if err != nil {
			return err
		}
		if write == nil {
			txn.PutWrite(req.PrimaryKey, req.LockTS, &mvcc.Write{StartTS: req.LockTS, Kind: mvcc.KindRollback})
			result.Status = StatusLockNotExist
			return nil
		}
		if write.Kind == mvcc.KindRollback {
			result.Status = StatusRolledBack
			return nil
		}
		result.Status = StatusCommitted
		result.CommitTS = commitTS
		return nil
	})
	if err != nil {
		return nil, errcode.Newf(errcode.EngineIO, err.Error())
	}
	return result, nil
}

// HeartBeatRequest bumps the primary lock's TTL, keeping a live
// transaction from being mistaken for abandoned.
type HeartBeatRequest struct {
	PrimaryKey []byte
	StartTS    uint64
	AdviseTTL  uint64
}

// HeartBeatResult reports the lock's (possibly bumped) TTL; Found is false
// if there was no matching lock, which is a no-op per spec 4.5.
type HeartBeatResult struct {
	Found   bool
	LockTTL uint64
}

// HeartBeat runs spec 4.5's HeartBeat operation.
func (e *Engine) HeartBeat(req *HeartBeatRequest) (*HeartBeatResult, *errcode.Error) {
	result := &HeartBeatResult{}
	who := nextWho()
	keys := [][]byte{req.PrimaryKey}

	err := e.withLatches(who, keys, req.StartTS, func(txn *mvcc.Txn, after *[]func()) error {
		lock, err := txn.GetLock(req.PrimaryKey)
		if err != nil {
			return err
		}
		if lock == nil || lock.StartTS != req.StartTS {
			return nil
		}
		if req.AdviseTTL > lock.TTLMillis {
			lock.TTLMillis = req.AdviseTTL
		}
		txn.PutLock(req.PrimaryKey, lock)
		result.Found = true
		result.LockTTL = lock.TTLMillis
		entry := &locktable.Entry{PrimaryKey: lock.Primary, StartTS: lock.StartTS, TTLMillis: lock.TTLMillis, TxnSize: lock.TxnSize}
		*after = append(*after, func() { e.Locks.Put(req.PrimaryKey, entry) })
		return nil
	})
	if err != nil {
		return nil, errcode.Newf(errcode.EngineIO, err.Error())
	}
	return result, nil
}
