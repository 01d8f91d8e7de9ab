// Package index implements the Index Wrapper capability set from spec.md
// section 4.7: the reader-writer-locked, state-machine-guarded shell that
// the Txn Engine drives once per committed key, and that search RPCs read
// through directly. Grounded on
// original_source/src/vector/vector_index_hnsw.h and
// vector_index_flat.cc for the capability set itself (Add/Upsert/Delete/
// Search/RangeSearch/Save/Load/SetOnline/SetOffline/GetCount/
// NeedToSave/NeedToRebuild) and their bthread_mutex_t-guarded, atomic
// online-flag concurrency shape, which this package generalizes into a
// backend-agnostic sync.RWMutex the way talent-plan-tinykv guards a
// single piece of shared state with one mutex per component
// (kv/raftstore/peer.go's peerStorage, region.Meta's per-region mutex).
package index

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/sirupsen/logrus"
)

// Metric is a distance function an index was built with (spec 4.7:
// "L2, inner-product, cosine (cosine = normalize + inner-product)").
type Metric int

const (
	MetricL2 Metric = iota
	MetricInnerProduct
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricInnerProduct:
		return "INNER_PRODUCT"
	case MetricCosine:
		return "COSINE"
	default:
		return "UNKNOWN"
	}
}

// State is a position in the Index Wrapper's build state machine (spec
// 4.7: "NotReady -> Building -> Ready -> (BuildError | Rebuilding ->
// Ready)").
type State int32

const (
	StateNotReady State = iota
	StateBuilding
	StateReady
	StateBuildError
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "NotReady"
	case StateBuilding:
		return "Building"
	case StateReady:
		return "Ready"
	case StateBuildError:
		return "BuildError"
	case StateRebuilding:
		return "Rebuilding"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotReady mirrors spec 4.7: "reads check IsReady() and surface
	// IndexNotReady ... immediately."
	ErrNotReady = errors.New("index not ready")
	// ErrBuildFailed mirrors the BuildError terminal state.
	ErrBuildFailed = errors.New("index build failed")
	// errEmptyPath mirrors vector_index_flat.cc's Save/Load rejecting an
	// empty path with EILLEGAL_PARAMTETERS.
	errEmptyPath = errors.New("index: path is empty")
	// errDimensionMismatch mirrors vector_index_flat.cc's Load double
	// check ("dimension not match").
	errDimensionMismatch = errors.New("index: loaded dimension does not match")
)

// Op is the commit-time operation the Txn Engine reports for a key (spec
// 4.7: "on_commit(doc/vector-with-id, op=Put|Delete)").
type Op int

const (
	OpPut Op = iota
	OpDelete
)

// CommitItem is one on_commit call's payload: exactly one of Vector or
// Text is set, matching the backend the Wrapper was built with.
type CommitItem struct {
	ID     uint64
	Vector []float32
	Text   string
	Op     Op
}

// VectorWithID is a single item handed to a backend's Add/Upsert: vector
// backends read Vector, the document backend reads Text, and each
// backend ignores the field it doesn't own.
type VectorWithID struct {
	ID     uint64
	Vector []float32
	Text   string
}

// ScoredResult is one ranked hit from Search or RangeSearch.
type ScoredResult struct {
	ID       uint64
	Distance float32
}

// Query is a single search request: vector backends read Vector, the
// document backend reads Text.
type Query struct {
	Vector []float32
	Text   string
}

// Filter is a pre-filter predicate a backend consults while traversing
// candidates (spec 4.7: "the index must honor them without breaking its
// traversal invariants ... top-k must return the k best results that
// pass filters, not the k best then filter").
type Filter interface {
	Allowed(id uint64) bool
}

// BitmapFilter restricts results to a fixed set of admissible ids, backed
// by a compressed roaring bitmap the way XuPeng-SH-tae_design filters
// rows by bitmap rather than by a per-row predicate call.
type BitmapFilter struct {
	bitmap *roaring.Bitmap
}

// NewBitmapFilter builds a BitmapFilter admitting exactly the given ids.
func NewBitmapFilter(ids ...uint64) *BitmapFilter {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(uint32(id))
	}
	return &BitmapFilter{bitmap: bm}
}

// Allowed implements Filter.
func (f *BitmapFilter) Allowed(id uint64) bool {
	return f.bitmap.Contains(uint32(id))
}

// Backend is the variant-specific engine a Wrapper drives: Flat, HNSW, or
// Document (spec 4.7's title, "Index Wrapper (Vector & Document)"). A
// Backend does no locking of its own; the Wrapper's RWMutex is the single
// reader-writer lock spec 4.7 requires ("add_or_upsert takes the writer
// side, search takes the reader side").
type Backend interface {
	Add(items []VectorWithID) error
	Upsert(items []VectorWithID) error
	Delete(ids []uint64) error
	Search(query Query, topK int, filters []Filter) ([]ScoredResult, error)
	RangeSearch(query Query, radius float32, filters []Filter) ([]ScoredResult, error)
	Count() int64
	MemorySize() int64
	Dimension() int32
	MetricType() Metric
	Save(path string) error
	Load(path string) error
	NeedToSave(lastSaveLogBehind int64) bool
	NeedToRebuild() bool
	Reset()
}

// Wrapper is one region's secondary index: the state machine, the
// reader-writer lock, and the online/offline flag around a Backend.
type Wrapper struct {
	mu      sync.RWMutex
	backend Backend

	state     int32 // State, accessed via atomic outside mu for fast IsReady checks
	buildErr  error
	online    int32 // atomic bool: SetOnline/SetOffline (vector_index_hnsw.h's is_online_)
	logBehind int64 // commits since the last successful Save
}

// NewWrapper wraps backend in NotReady state, offline.
func NewWrapper(backend Backend) *Wrapper {
	return &Wrapper{backend: backend, state: int32(StateNotReady)}
}

// State returns the current build state.
func (w *Wrapper) State() State {
	return State(atomic.LoadInt32(&w.state))
}

// IsReady reports whether reads may proceed (spec 4.7).
func (w *Wrapper) IsReady() bool {
	return w.State() == StateReady
}

// MarkBuilding transitions NotReady -> Building, e.g. right before the
// first rebuild_from_range after region creation or a store restart.
func (w *Wrapper) MarkBuilding() {
	atomic.StoreInt32(&w.state, int32(StateBuilding))
}

// MarkReady transitions into Ready, clearing any prior build error.
func (w *Wrapper) MarkReady() {
	w.mu.Lock()
	w.buildErr = nil
	w.mu.Unlock()
	atomic.StoreInt32(&w.state, int32(StateReady))
}

// MarkBuildError transitions into BuildError with the failing cause.
func (w *Wrapper) MarkBuildError(err error) {
	w.mu.Lock()
	w.buildErr = err
	w.mu.Unlock()
	atomic.StoreInt32(&w.state, int32(StateBuildError))
	logrus.WithError(err).Error("index build failed")
}

// BuildError returns the cause recorded by MarkBuildError, if any.
func (w *Wrapper) BuildError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.buildErr
}

// SetOnline and SetOffline toggle the flag IsOnline reports, independent
// of the build state machine (vector_index_hnsw.h's SetOnline/SetOffline
// over is_online_). Search and RangeSearch do not consult this flag; they
// are gated by the build state alone.
func (w *Wrapper) SetOnline()  { atomic.StoreInt32(&w.online, 1) }
func (w *Wrapper) SetOffline() { atomic.StoreInt32(&w.online, 0) }
func (w *Wrapper) IsOnline() bool {
	return atomic.LoadInt32(&w.online) != 0
}

func (w *Wrapper) checkReady() error {
	switch w.State() {
	case StateReady, StateRebuilding:
		return nil
	case StateBuildError:
		return ErrBuildFailed
	default:
		return ErrNotReady
	}
}

// OnCommit applies one committed key to the index, exactly once per key
// per commit in commit order (spec 4.7). It takes the writer side of the
// lock; upsert-with-existing-id backends perform their own
// remove-then-add two-phase update while holding it.
func (w *Wrapper) OnCommit(item CommitItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	atomic.AddInt64(&w.logBehind, 1)

	if item.Op == OpDelete {
		return w.backend.Delete([]uint64{item.ID})
	}
	return w.backend.Upsert([]VectorWithID{{ID: item.ID, Vector: item.Vector, Text: item.Text}})
}

// Search returns the top-k nearest results to query, honoring filters.
func (w *Wrapper) Search(query Query, topK int, filters []Filter) ([]ScoredResult, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.checkReady(); err != nil {
		return nil, err
	}
	return w.backend.Search(query, topK, filters)
}

// RangeSearch returns every result within radius of query (spec 4.7:
// "unordered within radius").
func (w *Wrapper) RangeSearch(query Query, radius float32, filters []Filter) ([]ScoredResult, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.checkReady(); err != nil {
		return nil, err
	}
	return w.backend.RangeSearch(query, radius, filters)
}

// Count, MemorySize, Dimension, and MetricType are passthroughs taken
// under the reader side of the lock.
func (w *Wrapper) Count() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend.Count()
}

func (w *Wrapper) MemorySize() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend.MemorySize()
}

func (w *Wrapper) Dimension() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend.Dimension()
}

func (w *Wrapper) MetricType() Metric {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend.MetricType()
}

// NeedToSave reports whether enough unsaved commits have accumulated
// since the last Save to warrant one (spec 4.7).
func (w *Wrapper) NeedToSave() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend.NeedToSave(atomic.LoadInt64(&w.logBehind))
}

// NeedToRebuild reports whether the backend judges itself degraded
// enough (e.g. too many tombstoned ids) to warrant a full rebuild.
func (w *Wrapper) NeedToRebuild() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend.NeedToRebuild()
}

// Save persists the index to path and resets the unsaved-commit counter.
// The original comment on VectorIndexFlat::Save applies unchanged here:
// the caller already holds whatever lock is needed around a save taken
// from a forked snapshot process, so Save itself only takes the reader
// side, matching vector_index_flat.cc's RWLockReadGuard around its save.
func (w *Wrapper) Save(path string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.backend.Save(path); err != nil {
		return err
	}
	atomic.StoreInt64(&w.logBehind, 0)
	return nil
}

// Load replaces the backend's contents from path and marks the index
// Ready on success, BuildError on failure.
func (w *Wrapper) Load(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.backend.Load(path); err != nil {
		w.buildErr = err
		atomic.StoreInt32(&w.state, int32(StateBuildError))
		return err
	}
	w.buildErr = nil
	atomic.StoreInt32(&w.state, int32(StateReady))
	return nil
}

// Source yields every live (id, vector/text) pair in a key range for
// RebuildFromRange to replay; the Txn Engine's Data-CF scan implements
// this, kept out of this package to avoid an import cycle.
type Source func(yield func(CommitItem) error) error

// RebuildFromRange rebuilds the backend from scratch by replaying every
// live item source yields (spec 4.7: "rebuilds from the live data CF;
// used after split/merge or corruption"). The backend is Reset before the
// replay. An index that was Ready moves to Rebuilding, which still admits
// reads, but those reads see only the items replayed so far; any other
// index moves to Building and rejects reads until the replay finishes.
func (w *Wrapper) RebuildFromRange(source Source) error {
	w.mu.Lock()
	prevState := w.State()
	if prevState == StateReady {
		atomic.StoreInt32(&w.state, int32(StateRebuilding))
	} else {
		atomic.StoreInt32(&w.state, int32(StateBuilding))
	}
	w.backend.Reset()
	w.mu.Unlock()

	err := source(func(item CommitItem) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if item.Op == OpDelete {
			return w.backend.Delete([]uint64{item.ID})
		}
		return w.backend.Upsert([]VectorWithID{{ID: item.ID, Vector: item.Vector, Text: item.Text}})
	})

	if err != nil {
		w.MarkBuildError(err)
		return err
	}
	w.MarkReady()
	atomic.StoreInt64(&w.logBehind, 0)
	return nil
}
