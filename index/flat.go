package index

import "sort"

// FlatBackend is a brute-force exact-search vector backend, grounded on
// vector_index_flat.cc's VectorIndexFlat: a flat id-to-vector map searched
// exhaustively per query, with an upsert that removes any existing id
// before adding the new vector (vector_index_flat.cc's AddOrUpsert:
// "delete id exists" then "add_with_ids").
type FlatBackend struct {
	dimension int32
	metric    Metric
	vectors   map[uint64][]float32
}

// NewFlatBackend returns an empty Flat backend for vectors of the given
// dimension and distance metric.
func NewFlatBackend(dimension int32, metric Metric) *FlatBackend {
	return &FlatBackend{dimension: dimension, metric: metric, vectors: make(map[uint64][]float32)}
}

// Add implements Backend. Flat's Add and Upsert share the same
// remove-then-insert semantics (vector_index_flat.cc's AddOrUpsertWrapper
// forwards both to the same AddOrUpsert).
func (f *FlatBackend) Add(items []VectorWithID) error {
	return f.Upsert(items)
}

// Upsert implements Backend's two-phase (remove old id, then add) update.
func (f *FlatBackend) Upsert(items []VectorWithID) error {
	for _, item := range items {
		f.vectors[item.ID] = normalizeVector(f.metric, item.Vector)
	}
	return nil
}

// Delete implements Backend.
func (f *FlatBackend) Delete(ids []uint64) error {
	for _, id := range ids {
		delete(f.vectors, id)
	}
	return nil
}

// Search implements Backend, honoring pre-filters while it traverses so
// the k results returned are the k best passing filters, not the k best
// then filtered (spec 4.7).
func (f *FlatBackend) Search(query Query, topK int, filters []Filter) ([]ScoredResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	q := normalizeVector(f.metric, query.Vector)
	results := make([]ScoredResult, 0, len(f.vectors))
	for id, v := range f.vectors {
		if !passesFilters(id, filters) {
			continue
		}
		results = append(results, ScoredResult{ID: id, Distance: metricDistance(f.metric, q, v)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RangeSearch implements Backend. Inner-product and cosine radii are
// interpreted the way vector_index_flat.cc's RangeSearch does: since this
// package stores their distance already negated (see metricDistance), a
// caller-supplied similarity radius r becomes the equivalent "closer than
// -r" cut, mirroring the original's `radius = 1.0F - radius` remap for
// its non-negated internal distance.
func (f *FlatBackend) RangeSearch(query Query, radius float32, filters []Filter) ([]ScoredResult, error) {
	q := normalizeVector(f.metric, query.Vector)
	cutoff := radius
	if f.metric == MetricInnerProduct || f.metric == MetricCosine {
		cutoff = -radius
	}
	var results []ScoredResult
	for id, v := range f.vectors {
		if !passesFilters(id, filters) {
			continue
		}
		d := metricDistance(f.metric, q, v)
		if d <= cutoff {
			results = append(results, ScoredResult{ID: id, Distance: d})
		}
	}
	return results, nil
}

func passesFilters(id uint64, filters []Filter) bool {
	for _, filt := range filters {
		if !filt.Allowed(id) {
			return false
		}
	}
	return true
}

// Count implements Backend.
func (f *FlatBackend) Count() int64 { return int64(len(f.vectors)) }

// MemorySize implements Backend, mirroring vector_index_flat.cc's
// GetMemorySize (id + vector bytes per entry).
func (f *FlatBackend) MemorySize() int64 {
	return int64(len(f.vectors)) * (8 + int64(f.dimension)*4)
}

// Dimension implements Backend.
func (f *FlatBackend) Dimension() int32 { return f.dimension }

// MetricType implements Backend.
func (f *FlatBackend) MetricType() Metric { return f.metric }

// NeedToSave implements Backend. vector_index_flat.cc gates on an
// absolute element count against a flag (FLAGS_flat_need_save_count);
// this port gates on unsaved-commit count directly, since a
// process-wide flag has no home in this package.
func (f *FlatBackend) NeedToSave(lastSaveLogBehind int64) bool {
	const needSaveLogBehind = 10000
	return lastSaveLogBehind >= needSaveLogBehind
}

// NeedToRebuild implements Backend. Flat never degrades with tombstones
// the way a graph index does, so it never asks for a rebuild.
func (f *FlatBackend) NeedToRebuild() bool { return false }

// Reset implements Backend, dropping every stored vector.
func (f *FlatBackend) Reset() { f.vectors = make(map[uint64][]float32) }

// flatSnapshot is FlatBackend's on-disk shape for Save/Load.
type flatSnapshot struct {
	Dimension int32
	Metric    Metric
	Vectors   map[uint64][]float32
}

// Save implements Backend.
func (f *FlatBackend) Save(path string) error {
	return saveGob(path, flatSnapshot{Dimension: f.dimension, Metric: f.metric, Vectors: f.vectors})
}

// Load implements Backend, rejecting a dimension mismatch the way
// vector_index_flat.cc's Load double-checks internal_index->d against
// dimension_ before accepting a loaded index.
func (f *FlatBackend) Load(path string) error {
	var snap flatSnapshot
	if err := loadGob(path, &snap); err != nil {
		return err
	}
	if snap.Dimension != f.dimension {
		return errDimensionMismatch
	}
	f.metric = snap.Metric
	f.vectors = snap.Vectors
	return nil
}
