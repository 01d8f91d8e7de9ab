// Package stream implements the Stream Manager from spec.md section 4.9:
// a server-side cursor registry that lets a scan whose result set is too
// large for one RPC be paged across several calls sharing one snapshot.
// Grounded on kv/transaction/mvcc/scanner.go's Scanner (the cursor being
// registered) generalized with the id/resume/expiry contract the teacher
// has no analog for, since its KvScan is a single bounded call.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/locktable"
	"github.com/visualYJD/dingo-store/mvcc"
)

// entry is one open stream: the cursor it wraps, the context needed to
// resume a chunked scan (the end key, per-chunk limit, and owning
// region's lock table the caller negotiated at Open time), and the
// deadline after which Resume returns StreamExpired.
type entry struct {
	id        uint64
	scanner   *mvcc.Scanner
	endKey    []byte
	limit     int
	locks     *locktable.Table
	ttl       time.Duration
	expiresAt time.Time
}

// expiryItem orders entries in the sweep tree by (expiresAt, id), the id
// tiebreak keeping two streams that expire at the same instant distinct.
type expiryItem struct {
	expiresAt time.Time
	id        uint64
	e         *entry
}

func (a expiryItem) Less(than btree.Item) bool {
	b := than.(expiryItem)
	if a.expiresAt.Equal(b.expiresAt) {
		return a.id < b.id
	}
	return a.expiresAt.Before(b.expiresAt)
}

// Registry is the process-wide stream table. One Registry serves every
// scan RPC on a store, matching spec 4.9's "the manager" being a single
// shared component rather than one per region.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*entry
	expiry *btree.BTree
}

// NewRegistry returns an empty stream Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64]*entry), expiry: btree.New(32)}
}

// Open allocates a stream_id for scanner and stores it with ttl,
// matching spec 4.9's "allocates stream_id on first call; stores
// {snapshot_handle, last_key, ctx, expiry}" (the snapshot and last_key
// live inside scanner itself; endKey/limit are the "ctx").
func (r *Registry) Open(scanner *mvcc.Scanner, endKey []byte, limit int, locks *locktable.Table, ttl time.Duration) uint64 {
	id := atomic.AddUint64(&r.nextID, 1)
	e := &entry{
		id:        id,
		scanner:   scanner,
		endKey:    endKey,
		limit:     limit,
		locks:     locks,
		ttl:       ttl,
		expiresAt: now().Add(ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = e
	r.expiry.ReplaceOrInsert(expiryItem{expiresAt: e.expiresAt, id: id, e: e})
	return id
}

// Resume returns the scanner, end key, and per-chunk limit for streamID
// and slides its expiry forward by its original ttl, matching spec 4.9's
// "subsequent calls carrying the same stream_id resume ... using the same
// snapshot". An unknown or expired stream_id returns StreamExpired (spec
// 4.9: "an expired stream resumed by the client returns StreamExpired").
func (r *Registry) Resume(streamID uint64) (scanner *mvcc.Scanner, endKey []byte, limit int, locks *locktable.Table, cErr *errcode.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[streamID]
	if !ok {
		return nil, nil, 0, nil, errcode.New(errcode.StreamExpired)
	}
	t := now()
	if t.After(e.expiresAt) {
		r.removeLocked(e)
		return nil, nil, 0, nil, errcode.New(errcode.StreamExpired)
	}

	r.expiry.Delete(expiryItem{expiresAt: e.expiresAt, id: e.id})
	e.expiresAt = t.Add(e.ttl)
	r.expiry.ReplaceOrInsert(expiryItem{expiresAt: e.expiresAt, id: e.id, e: e})

	return e.scanner, e.endKey, e.limit, e.locks, nil
}

// Close ends streamID early, e.g. once its scan is exhausted, releasing
// its scanner and removing it from the registry.
func (r *Registry) Close(streamID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[streamID]
	if !ok {
		return
	}
	r.removeLocked(e)
}

// removeLocked drops e from both indexes and closes its scanner. Callers
// must hold r.mu.
func (r *Registry) removeLocked(e *entry) {
	delete(r.byID, e.id)
	r.expiry.Delete(expiryItem{expiresAt: e.expiresAt, id: e.id})
	e.scanner.Close()
}

// Sweep closes and removes every stream whose expiry has passed,
// returning the count reaped. Intended to run periodically on the
// background queue (spec 4.8's maintenance tasks), walking the expiry
// tree in order so it stops at the first still-live entry instead of
// scanning the whole registry.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := now()
	var expired []expiryItem
	r.expiry.Ascend(func(i btree.Item) bool {
		item := i.(expiryItem)
		if item.expiresAt.After(t) {
			return false
		}
		expired = append(expired, item)
		return true
	})
	for _, item := range expired {
		r.removeLocked(item.e)
	}
	return len(expired)
}

// Len reports the number of currently open streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// now is a var so tests can freeze time instead of racing a real clock.
var now = time.Now
