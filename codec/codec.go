// Package codec implements the MVCC key encoding described in spec.md
// section 4.1: user keys are suffixed with an inverted timestamp so that
// iterating forward over one user key yields newest-to-oldest commit
// order. Grounded on talent-plan-tinykv/kv/transaction/mvcc/transaction.go's
// EncodeKey/DecodeUserKey, split here into the three distinct encodings
// (write, data, lock) the spec calls for instead of the teacher's single
// generic timestamped key.
package codec

import (
	"encoding/binary"
	"errors"
)

// ErrCorruptedInternalKey is returned by the Decode* functions when a key
// has the wrong length or a malformed suffix (spec 4.1).
var ErrCorruptedInternalKey = errors.New("codec: corrupted internal key")

const tsSuffixLen = 8
const lockSentinel = 0x00

// invert flips every bit of ts so that encoding it big-endian sorts commit
// timestamps in descending order for a fixed user key.
func invert(ts uint64) uint64 {
	return ^ts
}

// EncodeWrite returns user_key ∥ invert(commit_ts) as 8 big-endian bytes,
// for storage in the Write CF.
func EncodeWrite(userKey []byte, commitTS uint64) []byte {
	return appendInvertedTS(userKey, commitTS)
}

// EncodeData returns user_key ∥ invert(start_ts), for storage in the Data
// CF (the default-CF value keyed by the transaction's start timestamp).
func EncodeData(userKey []byte, startTS uint64) []byte {
	return appendInvertedTS(userKey, startTS)
}

func appendInvertedTS(userKey []byte, ts uint64) []byte {
	out := make([]byte, len(userKey)+tsSuffixLen)
	copy(out, userKey)
	binary.BigEndian.PutUint64(out[len(userKey):], invert(ts))
	return out
}

// EncodeLock returns user_key ∥ 0x00, a one-byte sentinel suffix, since a
// user key has at most one lock at a time (spec 4.1, 4.5).
func EncodeLock(userKey []byte) []byte {
	out := make([]byte, len(userKey)+1)
	copy(out, userKey)
	out[len(userKey)] = lockSentinel
	return out
}

// DecodeTimestampedKey splits an EncodeWrite/EncodeData result back into
// its user key and timestamp.
func DecodeTimestampedKey(key []byte) (userKey []byte, ts uint64, err error) {
	if len(key) < tsSuffixLen {
		return nil, 0, ErrCorruptedInternalKey
	}
	split := len(key) - tsSuffixLen
	userKey = key[:split]
	ts = invert(binary.BigEndian.Uint64(key[split:]))
	return userKey, ts, nil
}

// DecodeLockKey strips the lock sentinel, validating it is present.
func DecodeLockKey(key []byte) (userKey []byte, err error) {
	if len(key) < 1 || key[len(key)-1] != lockSentinel {
		return nil, ErrCorruptedInternalKey
	}
	return key[:len(key)-1], nil
}
