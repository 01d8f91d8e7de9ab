package mvcc

import (
	"bytes"

	"github.com/visualYJD/dingo-store/codec"
	"github.com/visualYJD/dingo-store/engine"
)

// TsMax is the highest possible timestamp, used to find the latest write
// regardless of a reader's start_ts (mirrors
// kv/tikv/transaction/mvcc/lock.go's TsMax).
const TsMax uint64 = ^uint64(0)

// RoTxn is a read-only view at a fixed start timestamp over a consistent
// engine snapshot. Grounded directly on
// kv/transaction/mvcc/transaction.go's RoTxn.
type RoTxn struct {
	Snapshot engine.Snapshot
	StartTS  uint64
}

// Txn additionally buffers writes for atomic application, mirroring
// kv/transaction/mvcc/transaction.go's MvccTxn embedding RoTxn.
type Txn struct {
	RoTxn
	writes []engine.Modify
}

// NewTxn builds a writable Txn over snapshot at startTS.
func NewTxn(snapshot engine.Snapshot, startTS uint64) *Txn {
	return &Txn{RoTxn: RoTxn{Snapshot: snapshot, StartTS: startTS}}
}

// NewRoTxn builds a read-only Txn.
func NewRoTxn(snapshot engine.Snapshot, startTS uint64) *RoTxn {
	return &RoTxn{Snapshot: snapshot, StartTS: startTS}
}

// Writes returns every buffered modification, ready to hand to
// engine.Adapter.Write.
func (txn *Txn) Writes() []engine.Modify {
	return txn.writes
}

// MostRecentWrite finds the most recent Write record for key regardless of
// this txn's StartTS, used by Prewrite's write-conflict check.
func (txn *RoTxn) MostRecentWrite(key []byte) (*Write, uint64, error) {
	return txn.mostRecentWriteBefore(key, TsMax)
}

// mostRecentWriteBefore finds the Write record for key with the newest
// commit_ts <= ts. Grounded on
// kv/transaction/mvcc/transaction.go's mostRecentWriteBefore.
func (txn *RoTxn) mostRecentWriteBefore(key []byte, ts uint64) (*Write, uint64, error) {
	iter := txn.Snapshot.IterCF(engine.CFWrite)
	defer iter.Close()
	iter.Seek(codec.EncodeWrite(key, ts))
	if !iter.Valid() {
		return nil, 0, nil
	}
	ik, iv := iter.Item()
	userKey, commitTS, err := codec.DecodeTimestampedKey(ik)
	if err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(userKey, key) {
		return nil, 0, nil
	}
	write, err := ParseWrite(iv)
	if err != nil {
		return nil, 0, err
	}
	return write, commitTS, nil
}

// CurrentWrite searches for the Write record matching this txn's own
// StartTS (i.e. "did my own prewrite already get committed/rolled back").
// Grounded on kv/transaction/mvcc/transaction.go's CurrentWrite.
func (txn *RoTxn) CurrentWrite(key []byte) (*Write, uint64, error) {
	seekTS := TsMax
	for {
		write, commitTS, err := txn.mostRecentWriteBefore(key, seekTS)
		if err != nil {
			return nil, 0, err
		}
		if write == nil {
			return nil, 0, nil
		}
		if write.StartTS == txn.StartTS {
			return write, commitTS, nil
		}
		if commitTS <= txn.StartTS {
			return nil, 0, nil
		}
		seekTS = commitTS - 1
	}
}

// GetValue returns the value visible to this txn's StartTS: the value
// written by the newest Write record committed at or before StartTS.
// Grounded on kv/transaction/mvcc/transaction.go's GetValue.
func (txn *RoTxn) GetValue(key []byte) ([]byte, error) {
	iter := txn.Snapshot.IterCF(engine.CFWrite)
	defer iter.Close()
	for iter.Seek(codec.EncodeWrite(key, txn.StartTS)); iter.Valid(); iter.Next() {
		ik, iv := iter.Item()
		userKey, _, err := codec.DecodeTimestampedKey(ik)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(userKey, key) {
			return nil, nil
		}
		write, err := ParseWrite(iv)
		if err != nil {
			return nil, err
		}
		switch write.Kind {
		case KindPut:
			if write.ShortValue != nil {
				return write.ShortValue, nil
			}
			return txn.getValue(key, write.StartTS)
		case KindDelete:
			return nil, nil
		default:
			// Rollback/Lock records are not a value; keep scanning older writes.
		}
	}
	return nil, nil
}

func (txn *RoTxn) getValue(key []byte, ts uint64) ([]byte, error) {
	v, err := txn.Snapshot.Get(engine.CFData, codec.EncodeData(key, ts))
	if err == engine.ErrNotFound {
		return nil, nil
	}
	return v, err
}

// GetLock returns the current Lock record for key, or nil if unlocked.
func (txn *RoTxn) GetLock(key []byte) (*Lock, error) {
	v, err := txn.Snapshot.Get(engine.CFLock, codec.EncodeLock(key))
	if err == engine.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseLock(v)
}

// PutWrite buffers a Write record at (key, ts).
func (txn *Txn) PutWrite(key []byte, ts uint64, write *Write) {
	txn.writes = append(txn.writes, engine.Put(engine.CFWrite, codec.EncodeWrite(key, ts), write.ToBytes()))
}

// PutLock buffers a Lock record for key.
func (txn *Txn) PutLock(key []byte, lock *Lock) {
	txn.writes = append(txn.writes, engine.Put(engine.CFLock, codec.EncodeLock(key), lock.ToBytes()))
}

// DeleteLock buffers removal of key's Lock record.
func (txn *Txn) DeleteLock(key []byte) {
	txn.writes = append(txn.writes, engine.Del(engine.CFLock, codec.EncodeLock(key)))
}

// PutValue buffers a Data-CF record at this txn's StartTS, used when value
// exceeds ShortValueThreshold and cannot be inlined into the Write record.
func (txn *Txn) PutValue(key []byte, value []byte) {
	txn.writes = append(txn.writes, engine.Put(engine.CFData, codec.EncodeData(key, txn.StartTS), value))
}

// DeleteValue buffers removal of the Data-CF record this txn wrote.
func (txn *Txn) DeleteValue(key []byte) {
	txn.writes = append(txn.writes, engine.Del(engine.CFData, codec.EncodeData(key, txn.StartTS)))
}

// KlPair pairs a key with its Lock, mirroring
// kv/tikv/transaction/mvcc/lock.go's KlPair.
type KlPair struct {
	Key  []byte
	Lock *Lock
}

// AllLocksForTxn returns every (key, lock) pair in the region whose lock
// belongs to startTS, used by ResolveLock. Grounded on
// kv/tikv/transaction/mvcc/lock.go's AllLocksForTxn.
func AllLocksForTxn(snapshot engine.Snapshot, startTS uint64) ([]KlPair, error) {
	iter := snapshot.IterCF(engine.CFLock)
	defer iter.Close()
	var out []KlPair
	for iter.Seek(nil); iter.Valid(); iter.Next() {
		ik, iv := iter.Item()
		userKey, err := codec.DecodeLockKey(ik)
		if err != nil {
			return nil, err
		}
		lock, err := ParseLock(iv)
		if err != nil {
			return nil, err
		}
		if lock.StartTS == startTS {
			out = append(out, KlPair{Key: append([]byte(nil), userKey...), Lock: lock})
		}
	}
	return out, nil
}
