// Package engine implements the KV Adapter (spec.md section 4.2): an
// opaque, atomic, multi-column-family byte store. Grounded on
// talent-plan-tinykv/kv/storage/inner_server.go's DBReader/Storage split
// and kv/util/engine_util's CF-by-prefix emulation, retargeted at
// cockroachdb/pebble (sourced from progressdb-ProgressDB, which embeds
// pebble the same way) instead of the teacher's badger.
package engine

import "errors"

// Column families, mirroring spec.md section 3: Data (default-CF value),
// Lock (primary locks), Write (commit records). Index wrappers use
// separate physical CFs that logically mirror Data.
const (
	CFData  = "default"
	CFLock  = "lock"
	CFWrite = "write"
)

// Errors returned by Adapter implementations (spec 4.2).
var (
	ErrNotFound       = errors.New("engine: not found")
	ErrSnapshotAborted = errors.New("engine: snapshot expired")
)

// Modify is one write in a batch: either a Put or a Delete against a single
// CF. A batch of Modify values is applied atomically by Write.
type Modify struct {
	CF    string
	Key   []byte
	Value []byte
	// Delete is true for a tombstone write; Value is ignored.
	Delete bool
}

// Put builds a Modify that writes value at key in cf.
func Put(cf string, key, value []byte) Modify {
	return Modify{CF: cf, Key: key, Value: value}
}

// Del builds a Modify that deletes key in cf.
func Del(cf string, key []byte) Modify {
	return Modify{CF: cf, Key: key, Delete: true}
}

// Iterator walks a CF's keys in ascending order starting from a Seek call.
// Matches talent-plan-tinykv/kv/util/engine_util.DBIterator's shape.
type Iterator interface {
	Seek(key []byte)
	Valid() bool
	Next()
	Item() (key, value []byte)
	Close()
}

// Snapshot is a consistent, point-in-time read view across all CFs,
// released by Close. Readers that need the full scan to be self
// consistent (e.g. mvcc.Txn, index rebuild) acquire one snapshot and
// issue every Get/IterCF against it.
type Snapshot interface {
	Get(cf string, key []byte) ([]byte, error)
	IterCF(cf string) Iterator
	Close()
}

// Adapter is the KV Adapter contract: atomic multi-CF batch writes, point
// reads, range iteration, and snapshot reads (spec 4.2). Implementations
// assume the caller has already serialized concurrent writers on
// overlapping keys (the latches package) and that batches are durable
// once Write returns (i.e. the Raft commit already happened upstream;
// Raft replication itself is out of this module's scope per spec.md 1).
type Adapter interface {
	// Write applies batch atomically across CFs.
	Write(batch []Modify) error
	// Get reads the latest value of key in cf, or ErrNotFound.
	Get(cf string, key []byte) ([]byte, error)
	// IterCF returns an iterator over cf not pinned to any particular
	// snapshot; callers that need point-in-time consistency should use
	// Snapshot instead.
	IterCF(cf string) Iterator
	// Snapshot takes a consistent read view across all CFs.
	Snapshot() (Snapshot, error)
	// Close releases the underlying store.
	Close() error
}
