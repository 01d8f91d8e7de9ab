// Package mvcc implements the Write and Lock record formats and the Txn
// read/write buffer from spec.md section 3 and 4.5. Grounded on
// talent-plan-tinykv/kv/transaction/mvcc/write.go (Write.ToBytes/
// ParseWrite, WriteKind) and kv/tikv/transaction/mvcc/lock.go
// (Lock.ToBytes/ParseLock), extended with the fields the distilled
// teacher's 4B/4C scope never needed: short-value inlining, for_update_ts,
// ttl_ms, txn_size, min_commit_ts, use_async_commit, secondaries.
package mvcc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Kind mirrors talent-plan-tinykv's WriteKind, extended with
// PessimisticLock per spec 3's Lock record kind set.
type Kind byte

const (
	KindPut Kind = iota + 1
	KindDelete
	KindRollback
	KindLock
	KindPessimisticLock
)

// ShortValueThreshold: values at or below this length are inlined into the
// Write record itself rather than stored separately in the Data CF (spec
// 3, "Write record ... For small values (<= threshold) the value is
// inlined").
const ShortValueThreshold = 64

// Write is a committed (or rolled-back) write, stored in the Write CF at
// user_key ∥ invert(commit_ts). Grounded on
// kv/transaction/mvcc/write.go's Write{StartTS, Kind}, extended with
// ShortValue inlining.
type Write struct {
	StartTS    uint64
	Kind       Kind
	ShortValue []byte // nil unless len(value) <= ShortValueThreshold
}

// ToBytes serializes a Write record: 1-byte kind, 8-byte start_ts,
// 1-byte short-value-present flag, then the short value itself if
// present. Mirrors the teacher's fixed 9-byte layout when there is no
// short value.
func (w *Write) ToBytes() []byte {
	buf := make([]byte, 10+len(w.ShortValue))
	buf[0] = byte(w.Kind)
	binary.BigEndian.PutUint64(buf[1:9], w.StartTS)
	if w.ShortValue != nil {
		buf[9] = 1
		copy(buf[10:], w.ShortValue)
	}
	return buf
}

// ParseWrite is the inverse of ToBytes.
func ParseWrite(value []byte) (*Write, error) {
	if value == nil {
		return nil, nil
	}
	if len(value) < 10 {
		return nil, fmt.Errorf("mvcc: write record too short, expected >= 10 bytes, found %d", len(value))
	}
	w := &Write{
		Kind:    Kind(value[0]),
		StartTS: binary.BigEndian.Uint64(value[1:9]),
	}
	if value[9] == 1 {
		w.ShortValue = append([]byte(nil), value[10:]...)
	}
	return w, nil
}

// Lock is a prewrite/pessimistic-lock record, stored in the Lock CF at
// user_key ∥ 0x00. Grounded on kv/tikv/transaction/mvcc/lock.go's Lock,
// extended with the fields spec 3 names: for_update_ts, txn_size,
// min_commit_ts, use_async_commit, secondaries.
type Lock struct {
	Primary        []byte
	StartTS        uint64
	ForUpdateTS    uint64 // 0 for a purely optimistic lock
	TTLMillis      uint64
	TxnSize        uint64
	Kind           Kind
	MinCommitTS    uint64
	UseAsyncCommit bool
	Secondaries    [][]byte
	ShortValue     []byte
}

type lockWire struct {
	Primary        []byte
	StartTS        uint64
	ForUpdateTS    uint64
	TTLMillis      uint64
	TxnSize        uint64
	Kind           Kind
	MinCommitTS    uint64
	UseAsyncCommit bool
	Secondaries    [][]byte
	ShortValue     []byte
}

// ToBytes serializes a Lock record. JSON is used rather than a hand-rolled
// fixed layout (as the teacher's Lock.ToBytes does) because this Lock
// carries a variable-length Secondaries list on top of the teacher's
// fixed fields; a length-prefixed custom format would just reimplement
// what encoding/json already gives us correctly.
func (l *Lock) ToBytes() []byte {
	w := lockWire(*l)
	b, err := json.Marshal(w)
	if err != nil {
		panic(err) // lockWire has no unmarshalable fields
	}
	return b
}

// ParseLock is the inverse of ToBytes.
func ParseLock(input []byte) (*Lock, error) {
	if input == nil {
		return nil, nil
	}
	var w lockWire
	if err := json.Unmarshal(input, &w); err != nil {
		return nil, fmt.Errorf("mvcc: error parsing lock: %w", err)
	}
	l := Lock(w)
	return &l, nil
}
