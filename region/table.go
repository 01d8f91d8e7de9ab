package region

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// Table keeps every Region on a store ordered by start key, so a raw or
// encoded key can be routed to its owning Region without a linear scan.
// Grounded on the general shape of a process-wide region directory (spec
// 4.6, "Region Meta ... serves as the admission gate"); talent-plan-tinykv
// keeps an equivalent but unordered map (tikv/region.go's
// RegionManager.regions); ordering by start key is adopted from
// google/btree's use for range-keyed structures elsewhere in the pack
// (cockroachdb-cockroach, and the teacher's own scheduler/pkg/cache).
type Table struct {
	mu   sync.RWMutex
	tree *btree.BTree
	byID map[uint64]*Meta
}

type rangeItem struct {
	startKey []byte
	meta     *Meta
}

func (a rangeItem) Less(than btree.Item) bool {
	return bytes.Compare(a.startKey, than.(rangeItem).startKey) < 0
}

// NewTable returns an empty region table.
func NewTable() *Table {
	return &Table{tree: btree.New(32), byID: make(map[uint64]*Meta)}
}

// Insert adds or replaces a Region entry, keyed by its current start key.
func (t *Table) Insert(m *Meta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := m.Snapshot()
	t.tree.ReplaceOrInsert(rangeItem{startKey: s.StartKey, meta: m})
	t.byID[s.ID] = m
}

// Remove drops a Region, e.g. once it reaches StateDeleted.
func (t *Table) Remove(m *Meta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := m.Snapshot()
	t.tree.Delete(rangeItem{startKey: s.StartKey})
	delete(t.byID, s.ID)
}

// ByID looks up a Region by id.
func (t *Table) ByID(id uint64) (*Meta, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byID[id]
	return m, ok
}

// Locate finds the Region whose [StartKey, EndKey) contains key, walking
// backward from the first entry with startKey > key (i.e. the entry
// immediately preceding it is the only candidate, since ranges never
// overlap).
func (t *Table) Locate(key []byte) (*Meta, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var found *Meta
	t.tree.DescendLessOrEqual(rangeItem{startKey: key}, func(i btree.Item) bool {
		found = i.(rangeItem).meta
		return false
	})
	if found == nil {
		return nil, false
	}
	if !found.ContainsKey(key) {
		return nil, false
	}
	return found, true
}

// Overlapping returns every Region whose range intersects [start, end).
// Used by the Backup/Restore Adapter to enumerate a multi-region backup
// range and by split/merge admin operations to find neighbours.
func (t *Table) Overlapping(start, end []byte) []*Meta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Meta
	t.tree.Ascend(func(i btree.Item) bool {
		m := i.(rangeItem).meta
		s := m.Snapshot()
		if len(end) > 0 && bytes.Compare(s.StartKey, end) >= 0 {
			return false
		}
		if len(s.EndKey) > 0 && bytes.Compare(s.EndKey, start) <= 0 {
			return true
		}
		out = append(out, m)
		return true
	})
	return out
}
