// Package errcode defines the stable error codes and response envelope
// described in spec.md section 6. Codes are returned as data on the
// response, the way talent-plan-tinykv's kvrpcpb.KeyError is returned as
// data from Prewrite/Get/Scan rather than as a Go error — see
// kv/transaction/commands/prewrite.go's *kvrpcpb.KeyError results.
package errcode

// Code is one of the stable, client-visible error codes from spec 6.
type Code int

const (
	OK Code = iota

	// Routing errors: client must refresh metadata and retry elsewhere.
	EpochNotMatch
	RegionNotFound
	RegionNotReady
	NotLeader

	// Transactional conflicts: structured data, not failures.
	KeyIsLocked
	WriteConflict
	TxnLockNotFound
	TxnRolledBack
	CommitTsExpired
	LockNotExistAndAlreadyCommitted

	// Input errors: no retry useful.
	IllegalParameter
	KeyEmpty
	BatchExceeded
	RequestSizeExceeded
	SnapshotNotSupported

	// Transient overload: client should back off and retry.
	RequestFull

	// State errors: retryable after the condition clears.
	StreamExpired
	IndexBuildError
	IndexNotReady
	SafePointExceeded
	ClusterReadOnly

	// Input/validation.
	RangeInvalid

	// Fatal: logged and surfaced, region may be marked unavailable.
	Internal
	EngineIO
	CorruptedInternalKey
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case EpochNotMatch:
		return "EpochNotMatch"
	case RegionNotFound:
		return "RegionNotFound"
	case RegionNotReady:
		return "RegionNotReady"
	case NotLeader:
		return "NotLeader"
	case KeyIsLocked:
		return "KeyIsLocked"
	case WriteConflict:
		return "WriteConflict"
	case TxnLockNotFound:
		return "TxnLockNotFound"
	case TxnRolledBack:
		return "TxnRolledBack"
	case CommitTsExpired:
		return "CommitTsExpired"
	case LockNotExistAndAlreadyCommitted:
		return "LockNotExistAndAlreadyCommitted"
	case IllegalParameter:
		return "IllegalParameter"
	case KeyEmpty:
		return "KeyEmpty"
	case BatchExceeded:
		return "BatchExceeded"
	case RequestSizeExceeded:
		return "RequestSizeExceeded"
	case SnapshotNotSupported:
		return "SnapshotNotSupported"
	case RequestFull:
		return "RequestFull"
	case StreamExpired:
		return "StreamExpired"
	case IndexBuildError:
		return "IndexBuildError"
	case IndexNotReady:
		return "IndexNotReady"
	case SafePointExceeded:
		return "SafePointExceeded"
	case ClusterReadOnly:
		return "ClusterReadOnly"
	case RangeInvalid:
		return "RangeInvalid"
	case Internal:
		return "Internal"
	case EngineIO:
		return "EngineIO"
	case CorruptedInternalKey:
		return "CorruptedInternalKey"
	default:
		return "Unknown"
	}
}

// Error is the envelope's error field: a code plus an optional message and
// routing hint, filled in on routing/state/fatal errors (spec 7).
type Error struct {
	Code    Code
	Message string
	// LeaderLocation is filled for NotLeader, the current leader's store
	// address, so the client can redirect without a coordinator round trip.
	LeaderLocation string
	// CurrentEpoch is filled for EpochNotMatch so the client can refresh
	// its routing table without a separate lookup.
	CurrentEpoch *EpochInfo
}

// EpochInfo is the minimal epoch shape an Error needs to report; the full
// definition lives in package region to avoid an import cycle.
type EpochInfo struct {
	Version      uint64
	ConfVersion  uint64
	StartKey     []byte
	EndKey       []byte
	RegionID     uint64
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code.String() + ": " + e.Message
	}
	return e.Code.String()
}

// New builds an *Error with just a code.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Newf builds an *Error with a code and message.
func Newf(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
