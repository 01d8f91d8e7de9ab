package index

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// DocumentBackend is the "Document" half of the wrapper named in spec
// 4.7's title ("Index Wrapper (Vector & Document)"): a term-postings
// index over whitespace-tokenized text, scored by term-frequency
// overlap. Grounded on XuPeng-SH-tae_design's use of roaring bitmaps to
// hold per-predicate admissible row sets; here each term's postings list
// is one compressed bitmap instead of a linear scan over every document.
type DocumentBackend struct {
	postings map[string]*roaring.Bitmap
	terms    map[uint64]map[string]int // doc id -> term frequencies, for scoring and removal
}

// NewDocumentBackend returns an empty document backend.
func NewDocumentBackend() *DocumentBackend {
	return &DocumentBackend{postings: make(map[string]*roaring.Bitmap), terms: make(map[uint64]map[string]int)}
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Add implements Backend.
func (d *DocumentBackend) Add(items []VectorWithID) error {
	return d.Upsert(items)
}

// Upsert implements Backend's two-phase (remove old postings, then
// reindex) update, the same discipline spec 4.7 requires of vector
// backends applied to term postings instead of graph edges.
func (d *DocumentBackend) Upsert(items []VectorWithID) error {
	for _, item := range items {
		d.removeOne(item.ID)
		freq := make(map[string]int)
		for _, tok := range tokenize(item.Text) {
			freq[tok]++
			bm, ok := d.postings[tok]
			if !ok {
				bm = roaring.New()
				d.postings[tok] = bm
			}
			bm.Add(uint32(item.ID))
		}
		d.terms[item.ID] = freq
	}
	return nil
}

func (d *DocumentBackend) removeOne(id uint64) {
	freq, ok := d.terms[id]
	if !ok {
		return
	}
	for tok := range freq {
		if bm, ok := d.postings[tok]; ok {
			bm.Remove(uint32(id))
			if bm.IsEmpty() {
				delete(d.postings, tok)
			}
		}
	}
	delete(d.terms, id)
}

// Delete implements Backend.
func (d *DocumentBackend) Delete(ids []uint64) error {
	for _, id := range ids {
		d.removeOne(id)
	}
	return nil
}

// score is the overlap term-frequency score between a query's tokens and
// a stored document; higher is a better match.
func (d *DocumentBackend) score(queryTokens []string, docID uint64) float32 {
	freq := d.terms[docID]
	var score float32
	for _, tok := range queryTokens {
		score += float32(freq[tok])
	}
	return score
}

// candidateIDs unions the postings for every query token, so only
// documents sharing at least one term are scored.
func (d *DocumentBackend) candidateIDs(queryTokens []string) *roaring.Bitmap {
	union := roaring.New()
	for _, tok := range queryTokens {
		if bm, ok := d.postings[tok]; ok {
			union.Or(bm)
		}
	}
	return union
}

// Search implements Backend. Distance is reported as the negative
// term-overlap score so DocumentBackend shares the Flat/HNSW
// smaller-is-closer convention (a perfect match sorts first).
func (d *DocumentBackend) Search(query Query, topK int, filters []Filter) ([]ScoredResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	tokens := tokenize(query.Text)
	candidates := d.candidateIDs(tokens)
	results := make([]ScoredResult, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		id := uint64(it.Next())
		if !passesFilters(id, filters) {
			continue
		}
		results = append(results, ScoredResult{ID: id, Distance: -d.score(tokens, id)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RangeSearch implements Backend: every candidate whose overlap score
// meets radius (interpreted as a minimum score, not a distance, since
// document overlap has no natural metric radius).
func (d *DocumentBackend) RangeSearch(query Query, radius float32, filters []Filter) ([]ScoredResult, error) {
	tokens := tokenize(query.Text)
	candidates := d.candidateIDs(tokens)
	var results []ScoredResult
	it := candidates.Iterator()
	for it.HasNext() {
		id := uint64(it.Next())
		if !passesFilters(id, filters) {
			continue
		}
		score := d.score(tokens, id)
		if score >= radius {
			results = append(results, ScoredResult{ID: id, Distance: -score})
		}
	}
	return results, nil
}

// Count implements Backend.
func (d *DocumentBackend) Count() int64 { return int64(len(d.terms)) }

// MemorySize implements Backend: postings bitmap bytes plus per-doc term
// table bytes.
func (d *DocumentBackend) MemorySize() int64 {
	var total int64
	for _, bm := range d.postings {
		total += int64(bm.GetSizeInBytes())
	}
	for _, freq := range d.terms {
		total += int64(len(freq)) * 16
	}
	return total
}

// Dimension implements Backend; a text index has no vector dimension.
func (d *DocumentBackend) Dimension() int32 { return 0 }

// MetricType implements Backend; term overlap has no faiss-style metric.
func (d *DocumentBackend) MetricType() Metric { return MetricInnerProduct }

// NeedToSave implements Backend.
func (d *DocumentBackend) NeedToSave(lastSaveLogBehind int64) bool {
	const needSaveLogBehind = 10000
	return lastSaveLogBehind >= needSaveLogBehind
}

// NeedToRebuild implements Backend; postings removal leaves no debt to
// repay, unlike a pruned graph index.
func (d *DocumentBackend) NeedToRebuild() bool { return false }

// Reset implements Backend.
func (d *DocumentBackend) Reset() {
	d.postings = make(map[string]*roaring.Bitmap)
	d.terms = make(map[uint64]map[string]int)
}

// documentSnapshot is DocumentBackend's on-disk shape for Save/Load.
type documentSnapshot struct {
	Terms map[uint64]map[string]int
}

// Save implements Backend.
func (d *DocumentBackend) Save(path string) error {
	return saveGob(path, documentSnapshot{Terms: d.terms})
}

// Load implements Backend.
func (d *DocumentBackend) Load(path string) error {
	var snap documentSnapshot
	if err := loadGob(path, &snap); err != nil {
		return err
	}
	d.Reset()
	for id, freq := range snap.Terms {
		d.terms[id] = freq
		for tok := range freq {
			bm, ok := d.postings[tok]
			if !ok {
				bm = roaring.New()
				d.postings[tok] = bm
			}
			bm.Add(uint32(id))
		}
	}
	return nil
}
