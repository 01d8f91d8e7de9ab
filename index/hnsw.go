package index

import (
	"math"
	"math/rand"
	"sort"
)

// HNSWBackend is a simplified hierarchical navigable small-world graph,
// grounded on the capability set of vector_index_hnsw.h's
// VectorIndexHnsw (Add/Upsert/Delete/Search/ResizeMaxElements/
// GetMaxElements over an hnswlib-style hnsw_index_/hnsw_space_ pair).
// The original wraps hnswlib, a C++ header-only library with no Go
// analogue in the reference corpus; this backend reimplements the
// standard greedy-layered-graph construction and search directly rather
// than reaching for an unrelated ecosystem library (see DESIGN.md).
type HNSWBackend struct {
	dimension      int32
	metric         Metric
	m              int
	efConstruction int
	efSearch       int
	maxElements    int64
	levelMult      float64
	rng            *rand.Rand

	nodes             map[uint64]*hnswNode
	entryPoint        uint64
	hasEntry          bool
	deletedSinceBuild int
}

// hnswNode's fields are exported so gob (used by Save/Load) can encode
// them directly; gob silently drops unexported fields.
type hnswNode struct {
	Vector    []float32
	Neighbors [][]uint64 // Neighbors[level] for level 0..len-1
}

// NewHNSWBackend returns an empty HNSW backend. m is the max neighbors
// kept per node per layer (vector_index_hnsw.h's construction parameter);
// maxElements bounds ResizeMaxElements/GetMaxElements accounting.
func NewHNSWBackend(dimension int32, metric Metric, m int, maxElements int64) *HNSWBackend {
	if m <= 0 {
		m = 16
	}
	return &HNSWBackend{
		dimension:      dimension,
		metric:         metric,
		m:              m,
		efConstruction: 4 * m,
		efSearch:       2 * m,
		maxElements:    maxElements,
		levelMult:      1.0 / math.Log(float64(m)),
		rng:            rand.New(rand.NewSource(1)),
		nodes:          make(map[uint64]*hnswNode),
	}
}

func (h *HNSWBackend) randomLevel() int {
	r := h.rng.Float64()
	if r <= 0 {
		r = 1e-12
	}
	level := int(math.Floor(-math.Log(r) * h.levelMult))
	if level > 31 {
		level = 31
	}
	return level
}

type distNode struct {
	id   uint64
	dist float32
}

func worstDist(sorted []distNode) float32 {
	return sorted[len(sorted)-1].dist
}

// searchLayer runs a greedy best-first search for query starting at
// entryID, confined to one graph level, keeping up to ef results. It
// keeps traversing through nodes that fail filters (so the graph doesn't
// lose reachability behind a rejected candidate) but only admits
// filter-passing nodes into the returned result set, matching spec 4.7's
// "top-k must return the k best results that pass filters, not the k
// best then filter."
func (h *HNSWBackend) searchLayer(entryID uint64, query []float32, ef, level int, filters []Filter) []distNode {
	visited := map[uint64]bool{entryID: true}
	entryDist := metricDistance(h.metric, query, h.nodes[entryID].Vector)
	candidates := []distNode{{entryID, entryDist}}
	var results []distNode
	if passesFilters(entryID, filters) {
		results = append(results, distNode{entryID, entryDist})
	}

	for len(candidates) > 0 {
		ci := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].dist < candidates[ci].dist {
				ci = i
			}
		}
		cur := candidates[ci]
		candidates = append(candidates[:ci], candidates[ci+1:]...)

		if len(results) >= ef && cur.dist > worstDist(results) {
			break
		}

		node := h.nodes[cur.id]
		if level >= len(node.Neighbors) {
			continue
		}
		for _, nb := range node.Neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode, ok := h.nodes[nb]
			if !ok {
				continue
			}
			d := metricDistance(h.metric, query, nbNode.Vector)
			if len(results) < ef || d < worstDist(results) {
				candidates = append(candidates, distNode{nb, d})
				if passesFilters(nb, filters) {
					results = append(results, distNode{nb, d})
					sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
					if len(results) > ef {
						results = results[:ef]
					}
				}
			}
		}
	}
	return results
}

func (h *HNSWBackend) greedyClosest(entryID uint64, query []float32, level int) uint64 {
	best := entryID
	bestDist := metricDistance(h.metric, query, h.nodes[entryID].Vector)
	improved := true
	for improved {
		improved = false
		node := h.nodes[best]
		if level >= len(node.Neighbors) {
			continue
		}
		for _, nb := range node.Neighbors[level] {
			nbNode, ok := h.nodes[nb]
			if !ok {
				continue
			}
			d := metricDistance(h.metric, query, nbNode.Vector)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

func (h *HNSWBackend) insertOne(id uint64, vector []float32) {
	vector = normalizeVector(h.metric, vector)
	level := h.randomLevel()
	node := &hnswNode{Vector: vector, Neighbors: make([][]uint64, level+1)}

	if !h.hasEntry {
		h.nodes[id] = node
		h.entryPoint = id
		h.hasEntry = true
		return
	}

	entryLevel := len(h.nodes[h.entryPoint].Neighbors) - 1
	ep := h.entryPoint
	for lvl := entryLevel; lvl > level; lvl-- {
		ep = h.greedyClosest(ep, vector, lvl)
	}

	top := level
	if entryLevel < top {
		top = entryLevel
	}
	for lvl := top; lvl >= 0; lvl-- {
		candidates := h.searchLayer(ep, vector, h.efConstruction, lvl, nil)
		if len(candidates) > h.m {
			candidates = candidates[:h.m]
		}
		neighbors := make([]uint64, 0, len(candidates))
		for _, c := range candidates {
			neighbors = append(neighbors, c.id)
		}
		node.Neighbors[lvl] = neighbors
		for _, nb := range neighbors {
			nbNode := h.nodes[nb]
			nbNode.Neighbors[lvl] = append(nbNode.Neighbors[lvl], id)
			if len(nbNode.Neighbors[lvl]) > h.m {
				h.pruneNeighborsAt(nb, lvl)
			}
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	h.nodes[id] = node
	if level > entryLevel {
		h.entryPoint = id
	}
}

// pruneNeighborsAt keeps only the m closest neighbors id has at level,
// re-measuring distance from id's own vector.
func (h *HNSWBackend) pruneNeighborsAt(id uint64, level int) {
	node := h.nodes[id]
	ranked := make([]distNode, 0, len(node.Neighbors[level]))
	for _, nb := range node.Neighbors[level] {
		nbNode, ok := h.nodes[nb]
		if !ok {
			continue
		}
		ranked = append(ranked, distNode{nb, metricDistance(h.metric, node.Vector, nbNode.Vector)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > h.m {
		ranked = ranked[:h.m]
	}
	kept := make([]uint64, len(ranked))
	for i, r := range ranked {
		kept[i] = r.id
	}
	node.Neighbors[level] = kept
}

// Add implements Backend.
func (h *HNSWBackend) Add(items []VectorWithID) error {
	return h.Upsert(items)
}

// Upsert implements Backend's two-phase (remove old id, then reinsert)
// update, matching spec 4.7's discipline for graph-structured backends
// where an in-place value swap would leave stale edges.
func (h *HNSWBackend) Upsert(items []VectorWithID) error {
	for _, item := range items {
		if _, exists := h.nodes[item.ID]; exists {
			h.removeOne(item.ID)
		}
		h.insertOne(item.ID, item.Vector)
	}
	return nil
}

func (h *HNSWBackend) removeOne(id uint64) {
	node, ok := h.nodes[id]
	if !ok {
		return
	}
	for lvl := range node.Neighbors {
		for _, nb := range node.Neighbors[lvl] {
			nbNode, ok := h.nodes[nb]
			if !ok || lvl >= len(nbNode.Neighbors) {
				continue
			}
			kept := nbNode.Neighbors[lvl][:0]
			for _, x := range nbNode.Neighbors[lvl] {
				if x != id {
					kept = append(kept, x)
				}
			}
			nbNode.Neighbors[lvl] = kept
		}
	}
	delete(h.nodes, id)
	h.deletedSinceBuild++
	if h.entryPoint == id {
		h.hasEntry = false
		for other := range h.nodes {
			h.entryPoint = other
			h.hasEntry = true
			break
		}
	}
}

// Delete implements Backend.
func (h *HNSWBackend) Delete(ids []uint64) error {
	for _, id := range ids {
		h.removeOne(id)
	}
	return nil
}

// Search implements Backend: descend the graph greedily from the top
// level to level 1, then run a bounded beam search at level 0.
func (h *HNSWBackend) Search(query Query, topK int, filters []Filter) ([]ScoredResult, error) {
	if topK <= 0 || !h.hasEntry {
		return nil, nil
	}
	q := normalizeVector(h.metric, query.Vector)
	ep := h.entryPoint
	topLevel := len(h.nodes[ep].Neighbors) - 1
	for lvl := topLevel; lvl > 0; lvl-- {
		ep = h.greedyClosest(ep, q, lvl)
	}
	ef := h.efSearch
	if topK > ef {
		ef = topK
	}
	candidates := h.searchLayer(ep, q, ef, 0, filters)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]ScoredResult, len(candidates))
	for i, c := range candidates {
		results[i] = ScoredResult{ID: c.id, Distance: c.dist}
	}
	return results, nil
}

// RangeSearch implements Backend by widening Search's beam to the whole
// graph and cutting at radius; hnswlib itself has no native range query,
// so vector_index_hnsw.h has no analogue here either.
func (h *HNSWBackend) RangeSearch(query Query, radius float32, filters []Filter) ([]ScoredResult, error) {
	if !h.hasEntry {
		return nil, nil
	}
	q := normalizeVector(h.metric, query.Vector)
	cutoff := radius
	if h.metric == MetricInnerProduct || h.metric == MetricCosine {
		cutoff = -radius
	}
	ep := h.entryPoint
	topLevel := len(h.nodes[ep].Neighbors) - 1
	for lvl := topLevel; lvl > 0; lvl-- {
		ep = h.greedyClosest(ep, q, lvl)
	}
	candidates := h.searchLayer(ep, q, len(h.nodes), 0, filters)
	var results []ScoredResult
	for _, c := range candidates {
		if c.dist <= cutoff {
			results = append(results, ScoredResult{ID: c.id, Distance: c.dist})
		}
	}
	return results, nil
}

// Count implements Backend.
func (h *HNSWBackend) Count() int64 { return int64(len(h.nodes)) }

// MemorySize implements Backend: vector bytes plus neighbor-id bytes per
// node, mirroring hnswlib's per-element footprint that
// vector_index_hnsw.h's GetMemorySize reports (id + vector + link list).
func (h *HNSWBackend) MemorySize() int64 {
	var total int64
	for _, n := range h.nodes {
		total += int64(len(n.Vector)) * 4
		for _, layer := range n.Neighbors {
			total += int64(len(layer)) * 8
		}
	}
	return total
}

// Dimension implements Backend.
func (h *HNSWBackend) Dimension() int32 { return h.dimension }

// MetricType implements Backend.
func (h *HNSWBackend) MetricType() Metric { return h.metric }

// NeedToSave implements Backend.
func (h *HNSWBackend) NeedToSave(lastSaveLogBehind int64) bool {
	const needSaveLogBehind = 1000
	return lastSaveLogBehind >= needSaveLogBehind
}

// NeedToRebuild implements Backend, mirroring vector_index_hnsw.h's
// NeedToRebuild(last_save_log_behind): once enough deletions have
// accumulated relative to live elements, stale edges left by removeOne's
// pruning make a fresh build worthwhile.
func (h *HNSWBackend) NeedToRebuild() bool {
	if len(h.nodes) == 0 {
		return h.deletedSinceBuild > 0
	}
	return float64(h.deletedSinceBuild)/float64(len(h.nodes)) > 0.2
}

// ResizeMaxElements implements vector_index_hnsw.h's
// ResizeMaxElements(new_max_elements): this backend has no fixed-capacity
// backing array to resize, so it only updates the accounting bound
// GetMaxElements reports.
func (h *HNSWBackend) ResizeMaxElements(newMax int64) error {
	h.maxElements = newMax
	return nil
}

// GetMaxElements implements vector_index_hnsw.h's GetMaxElements.
func (h *HNSWBackend) GetMaxElements() int64 { return h.maxElements }

// Reset implements Backend, dropping the entire graph.
func (h *HNSWBackend) Reset() {
	h.nodes = make(map[uint64]*hnswNode)
	h.hasEntry = false
	h.deletedSinceBuild = 0
}

// hnswSnapshot is HNSWBackend's on-disk shape for Save/Load.
type hnswSnapshot struct {
	Dimension   int32
	Metric      Metric
	M           int
	MaxElements int64
	Nodes       map[uint64]*hnswNode
	EntryPoint  uint64
	HasEntry    bool
}

// Save implements Backend.
func (h *HNSWBackend) Save(path string) error {
	return saveGob(path, hnswSnapshot{
		Dimension: h.dimension, Metric: h.metric, M: h.m, MaxElements: h.maxElements,
		Nodes: h.nodes, EntryPoint: h.entryPoint, HasEntry: h.hasEntry,
	})
}

// Load implements Backend.
func (h *HNSWBackend) Load(path string) error {
	var snap hnswSnapshot
	if err := loadGob(path, &snap); err != nil {
		return err
	}
	if snap.Dimension != h.dimension {
		return errDimensionMismatch
	}
	h.metric = snap.Metric
	h.m = snap.M
	h.maxElements = snap.MaxElements
	h.nodes = snap.Nodes
	h.entryPoint = snap.EntryPoint
	h.hasEntry = snap.HasEntry
	h.deletedSinceBuild = 0
	return nil
}
