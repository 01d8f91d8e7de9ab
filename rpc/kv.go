package rpc

import (
	"bytes"
	"time"

	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
	"github.com/visualYJD/dingo-store/region"
)

// GetRequest reads one key's value as of StartTS. ResolvedLocks names
// start timestamps the client has already resolved (spec 6's
// context.resolved_locks): a lock belonging to one of these is treated
// as transparent rather than blocking.
type GetRequest struct {
	Key           []byte
	StartTS       uint64
	Epoch         region.Epoch
	ResolvedLocks map[uint64]bool
}

// GetResponse carries the value, or NotFound if there is none visible.
// A non-empty TxnResult means the read hit a lock and Value/NotFound
// are meaningless (spec 4.4: readers must consult the lock table for
// every key and surface a conflict rather than silently reading through
// or blocking).
type GetResponse struct {
	Value     []byte
	NotFound  bool
	TxnResult errcode.TxnResult
}

// Get runs a single-key snapshot read, matching
// kv/server/server.go's RawGet/KvGet shape: route, validate, read,
// fold the outcome into a response rather than a transport error.
func (s *Server) Get(req *GetRequest) (*GetResponse, *errcode.Error) {
	r, cErr := s.route(req.Key)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkReadable(encodeBoundaryKey(req.Key), req.Epoch, req.StartTS); cErr != nil {
		return nil, cErr
	}

	return dispatchRead(s, func() (*GetResponse, *errcode.Error) {
		if lock := r.Txn.Locks.Conflict(req.Key, req.StartTS, req.ResolvedLocks); lock != nil {
			return &GetResponse{TxnResult: lockConflictResult(req.Key, lock)}, nil
		}

		roTxn, snap, err := r.roTxnAt(req.StartTS)
		if err != nil {
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		defer snap.Close()

		value, err := roTxn.GetValue(req.Key)
		if err != nil {
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		return &GetResponse{Value: value, NotFound: value == nil}, nil
	})
}

// ScanRequest starts or resumes a ranged snapshot scan. A zero StreamID
// starts a new scan from StartKey; a non-zero one resumes an existing
// stream, ignoring StartKey/EndKey/StartTS in favor of the stored
// context (spec 4.9). ResolvedLocks mirrors GetRequest's.
type ScanRequest struct {
	StartKey      []byte
	EndKey        []byte
	StartTS       uint64
	Limit         int
	Epoch         region.Epoch
	StreamID      uint64
	ResolvedLocks map[uint64]bool
}

// ScanResponse carries up to Limit key/value pairs. StreamID is nonzero
// when the scan was forced to stream and more data may remain; the
// client repeats the call with StreamID set (and Exhausted false) to
// fetch the next chunk. A non-empty TxnResult means Pairs stops short
// of Limit because the next key is locked (spec 4.4): the client should
// resolve the lock and re-Scan from that key rather than resume this
// stream, since the conflicting key is not part of it.
type ScanResponse struct {
	Pairs     []KvPair
	StreamID  uint64
	Exhausted bool
	TxnResult errcode.TxnResult
}

// KvPair is one scanned key/value.
type KvPair struct {
	Key   []byte
	Value []byte
}

// Scan runs spec 4.9's Stream Manager contract: a Limit within
// StreamMessageMaxLimitSize returns everything in one response; a
// larger one is forced to stream, registering a Registry entry the
// client resumes by echoing StreamID.
func (s *Server) Scan(req *ScanRequest) (*ScanResponse, *errcode.Error) {
	if req.StreamID != 0 {
		return s.resumeScan(req.StreamID, req.Limit, req.ResolvedLocks)
	}

	r, cErr := s.route(req.StartKey)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkReadable(encodeBoundaryKey(req.StartKey), req.Epoch, req.StartTS); cErr != nil {
		return nil, cErr
	}

	return dispatchRead(s, func() (*ScanResponse, *errcode.Error) {
		roTxn, snap, err := r.roTxnAt(req.StartTS)
		if err != nil {
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		scanner := mvcc.NewScanner(roTxn, req.StartKey, req.EndKey)

		pairs, exhausted, err := readChunk(scanner, req.Limit)
		if err != nil {
			scanner.Close()
			snap.Close()
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		pairs, txnResult := checkLockConflicts(pairs, r.Txn.Locks, req.StartTS, req.ResolvedLocks)

		if exhausted || !txnResult.Empty() || req.Limit <= s.StreamMessageMaxLimitSize {
			scanner.Close()
			snap.Close()
			return &ScanResponse{Pairs: pairs, Exhausted: exhausted, TxnResult: txnResult}, nil
		}

		streamID := s.Streams.Open(scanner, req.EndKey, req.Limit, r.Txn.Locks, defaultStreamTTL)
		return &ScanResponse{Pairs: pairs, StreamID: streamID}, nil
	})
}

func (s *Server) resumeScan(streamID uint64, limit int, resolvedLocks map[uint64]bool) (*ScanResponse, *errcode.Error) {
	scanner, endKey, storedLimit, locks, cErr := s.Streams.Resume(streamID)
	if cErr != nil {
		return nil, cErr
	}
	_ = endKey // the scanner already carries its own end-key boundary
	if limit <= 0 {
		limit = storedLimit
	}

	return dispatchRead(s, func() (*ScanResponse, *errcode.Error) {
		pairs, exhausted, err := readChunk(scanner, limit)
		if err != nil {
			s.Streams.Close(streamID)
			return nil, errcode.Newf(errcode.EngineIO, err.Error())
		}
		pairs, txnResult := checkLockConflicts(pairs, locks, scanner.StartTS(), resolvedLocks)
		if exhausted || !txnResult.Empty() {
			s.Streams.Close(streamID)
			return &ScanResponse{Pairs: pairs, Exhausted: exhausted, TxnResult: txnResult}, nil
		}
		return &ScanResponse{Pairs: pairs, StreamID: streamID}, nil
	})
}

// readChunk pulls up to limit pairs from scanner, reporting whether the
// scan reached its end within that pull.
func readChunk(scanner *mvcc.Scanner, limit int) (pairs []KvPair, exhausted bool, err error) {
	for len(pairs) < limit {
		key, value, err := scanner.Next()
		if err != nil {
			return nil, false, err
		}
		if key == nil {
			return pairs, true, nil
		}
		pairs = append(pairs, KvPair{Key: key, Value: value})
	}
	return pairs, false, nil
}

// checkLockConflicts scans pairs' keys for the first blocking lock
// (spec 4.4's non-blocking scan contract) and truncates pairs to
// everything strictly before it. Grounded on
// locktable.Table.ConflictsInRange's own contract: the caller supplies
// the ascending key set the underlying MVCC scan just walked.
func checkLockConflicts(pairs []KvPair, locks *locktable.Table, readTS uint64, resolvedLocks map[uint64]bool) ([]KvPair, errcode.TxnResult) {
	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	conflictKey, lock := locks.ConflictsInRange(keys, readTS, resolvedLocks)
	if lock == nil {
		return pairs, errcode.TxnResult{}
	}
	for i, p := range pairs {
		if bytes.Equal(p.Key, conflictKey) {
			return pairs[:i], lockConflictResult(conflictKey, lock)
		}
	}
	return pairs, errcode.TxnResult{}
}

func lockConflictResult(key []byte, lock *locktable.Entry) errcode.TxnResult {
	return errcode.TxnResult{Locked: &errcode.LockInfo{
		PrimaryKey: lock.PrimaryKey,
		Key:        append([]byte(nil), key...),
		StartTS:    lock.StartTS,
		TTLMillis:  lock.TTLMillis,
		TxnSize:    lock.TxnSize,
	}}
}

// defaultStreamTTL is how long an idle stream stays registered before
// Resume starts returning StreamExpired (spec 4.9).
const defaultStreamTTL = 30 * time.Second
