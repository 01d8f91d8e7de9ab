package mvcc

import (
	"bytes"

	"github.com/visualYJD/dingo-store/codec"
	"github.com/visualYJD/dingo-store/engine"
)

// Scanner walks keys in ascending order, returning the value each is
// visible to at the txn's StartTS, skipping keys with no visible Put.
// Grounded on kv/transaction/mvcc/scanner.go's Scanner, generalized to
// stop at an optional end key (for RangeSearch and paginated scans).
// Scanner itself carries no locktable.Table: it only ever walks the
// Write CF, so lock-conflict reporting for the keys it returns (spec
// 4.4's non-blocking contract) is the caller's job, done by checking
// each returned key against a locktable.Table (see rpc.checkLockConflicts).
type Scanner struct {
	txn      *RoTxn
	iter     engine.Iterator
	endKey   []byte // exclusive upper bound, nil for unbounded
	nextSeek []byte // next Write-CF key to seek from
	done     bool
}

// NewScanner starts a scan over txn's snapshot beginning at startKey
// (inclusive) up to endKey (exclusive, nil for unbounded).
func NewScanner(txn *RoTxn, startKey, endKey []byte) *Scanner {
	return &Scanner{
		txn:      txn,
		iter:     txn.Snapshot.IterCF(engine.CFWrite),
		endKey:   endKey,
		nextSeek: startKey,
	}
}

// Close releases the underlying iterator.
func (s *Scanner) Close() {
	s.iter.Close()
}

// StartTS returns the timestamp this scanner reads as of, so a caller
// resuming a stored Scanner (stream.Registry) can re-run lock-conflict
// checks against the same read view without threading the value through
// separately.
func (s *Scanner) StartTS() uint64 {
	return s.txn.StartTS
}

// Next returns the next (key, value) pair visible to the scanner's
// StartTS, or (nil, nil, nil) once the scan is exhausted. It skips keys
// whose most recent visible Write is a delete or has no committed Put.
func (s *Scanner) Next() (key, value []byte, err error) {
	for {
		if s.done {
			return nil, nil, nil
		}
		// An empty start key seeks from the very first Write-CF entry;
		// encoding it would leave a bare timestamp that sorts after data.
		seekKey := s.nextSeek
		if len(seekKey) > 0 {
			seekKey = codec.EncodeWrite(s.nextSeek, s.txn.StartTS)
		}
		s.iter.Seek(seekKey)
		if !s.iter.Valid() {
			s.done = true
			return nil, nil, nil
		}
		ik, _ := s.iter.Item()
		userKey, _, decodeErr := codec.DecodeTimestampedKey(ik)
		if decodeErr != nil {
			return nil, nil, decodeErr
		}
		if s.endKey != nil && bytes.Compare(userKey, s.endKey) >= 0 {
			s.done = true
			return nil, nil, nil
		}
		// Every encoded Write-CF key for userKey is userKey plus an 8-byte
		// inverted timestamp suffix; appending nine 0xff bytes is
		// guaranteed to sort after all of them regardless of the
		// suffix's actual bytes, so the next Seek lands on the next
		// distinct user key.
		bump := make([]byte, len(userKey)+9)
		copy(bump, userKey)
		for i := len(userKey); i < len(bump); i++ {
			bump[i] = 0xff
		}
		s.nextSeek = bump

		v, getErr := s.txn.GetValue(userKey)
		if getErr != nil {
			return nil, nil, getErr
		}
		if v == nil {
			continue // key has no Put visible at this StartTS; move to the next key
		}
		return userKey, v, nil
	}
}
