package errcode

// TxnResult carries the structured transactional-conflict variants from
// spec section 6: a response can have error.Code == OK and still be
// unsuccessful because TxnResult names a conflict. Exactly one field (or
// none, for success) is set per response, mirroring the way tinykv's
// kvrpcpb.KeyError carries exactly one of Locked/Conflict/Retryable/...
type TxnResult struct {
	Locked            *LockInfo
	WriteConflict     *WriteConflictInfo
	TxnNotFound       *TxnNotFoundInfo
	CommitTsExpired   *CommitTsExpiredInfo
	AlreadyCommitted  *AlreadyCommittedInfo
	RolledBack        bool
}

// Empty reports whether this result names no conflict, i.e. the paired
// operation actually succeeded.
func (r *TxnResult) Empty() bool {
	if r == nil {
		return true
	}
	return r.Locked == nil && r.WriteConflict == nil && r.TxnNotFound == nil &&
		r.CommitTsExpired == nil && r.AlreadyCommitted == nil && !r.RolledBack
}

// LockInfo describes a lock blocking the caller, enough for the client to
// drive CheckTxnStatus + ResolveLock (spec 4.5).
type LockInfo struct {
	PrimaryKey []byte
	Key        []byte
	StartTS    uint64
	TTLMillis  uint64
	TxnSize    uint64
}

// WriteConflictInfo is the classic percolator write-write conflict payload.
// RetryWithNewForUpdateTS is set for the pessimistic-lock variant of this
// conflict (spec 4.5 PessimisticLock).
type WriteConflictInfo struct {
	StartTS                 uint64
	ConflictStartTS          uint64
	ConflictCommitTS         uint64
	Key                      []byte
	Primary                  []byte
	RetryWithNewForUpdateTS  bool
}

// TxnNotFoundInfo reports TxnLockNotFound: the client must abort, it never
// received Prewrite confirmation for this key.
type TxnNotFoundInfo struct {
	StartTS uint64
	Key     []byte
}

// CommitTsExpiredInfo reports that commit_ts <= the lock's min_commit_ts
// floor (async-commit bookkeeping).
type CommitTsExpiredInfo struct {
	StartTS        uint64
	AttemptedCommit uint64
	MinCommitTS    uint64
	Key            []byte
}

// AlreadyCommittedInfo reports LockNotExistAndAlreadyCommitted: a
// BatchRollback raced a Commit that already landed.
type AlreadyCommittedInfo struct {
	StartTS  uint64
	CommitTS uint64
}
