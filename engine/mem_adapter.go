package engine

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// MemAdapter is an in-memory Adapter for tests, grounded on
// talent-plan-tinykv/kv/storage/mem_storage.go's MemStorage (one ordered
// tree per CF, backed there by petar/GoLLRB; here by google/btree, already
// pulled in for the region table and stream registry so the module does
// not need two competing ordered-map libraries for the same shape).
type MemAdapter struct {
	mu  sync.RWMutex
	cfs map[string]*btree.BTree
}

type memItem struct {
	key   []byte
	value []byte
}

func (a memItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(memItem).key) < 0
}

// NewMemAdapter returns a ready-to-use in-memory Adapter.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{cfs: make(map[string]*btree.BTree)}
}

func (a *MemAdapter) tree(cf string) *btree.BTree {
	t, ok := a.cfs[cf]
	if !ok {
		t = btree.New(32)
		a.cfs[cf] = t
	}
	return t
}

func (a *MemAdapter) Write(batch []Modify) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range batch {
		t := a.tree(m.CF)
		if m.Delete {
			t.Delete(memItem{key: m.Key})
			continue
		}
		t.ReplaceOrInsert(memItem{key: append([]byte(nil), m.Key...), value: append([]byte(nil), m.Value...)})
	}
	return nil
}

func (a *MemAdapter) Get(cf string, key []byte) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.cfs[cf]
	if !ok {
		return nil, ErrNotFound
	}
	found := t.Get(memItem{key: key})
	if found == nil {
		return nil, ErrNotFound
	}
	return found.(memItem).value, nil
}

func (a *MemAdapter) IterCF(cf string) Iterator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.cfs[cf]
	if !ok {
		t = btree.New(32)
	}
	items := make([]memItem, 0, t.Len())
	t.Ascend(func(i btree.Item) bool {
		items = append(items, i.(memItem))
		return true
	})
	return &memIterator{items: items, pos: -1}
}

// Snapshot clones every CF tree under the lock, giving a consistent,
// isolated read view (google/btree clones are O(1) copy-on-write).
func (a *MemAdapter) Snapshot() (Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	clones := make(map[string]*btree.BTree, len(a.cfs))
	for cf, t := range a.cfs {
		clones[cf] = t.Clone()
	}
	return &memSnapshot{cfs: clones}, nil
}

func (a *MemAdapter) Close() error { return nil }

type memIterator struct {
	items []memItem
	pos   int
}

func (it *memIterator) Seek(key []byte) {
	for i, item := range it.items {
		if bytes.Compare(item.key, key) >= 0 {
			it.pos = i
			return
		}
	}
	it.pos = len(it.items)
}

func (it *memIterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.items) }
func (it *memIterator) Next()       { it.pos++ }
func (it *memIterator) Item() (key, value []byte) {
	item := it.items[it.pos]
	return item.key, item.value
}
func (it *memIterator) Close() {}

type memSnapshot struct {
	cfs map[string]*btree.BTree
}

func (s *memSnapshot) Get(cf string, key []byte) ([]byte, error) {
	t, ok := s.cfs[cf]
	if !ok {
		return nil, ErrNotFound
	}
	found := t.Get(memItem{key: key})
	if found == nil {
		return nil, ErrNotFound
	}
	return found.(memItem).value, nil
}

func (s *memSnapshot) IterCF(cf string) Iterator {
	t, ok := s.cfs[cf]
	if !ok {
		t = btree.New(32)
	}
	items := make([]memItem, 0, t.Len())
	t.Ascend(func(i btree.Item) bool {
		items = append(items, i.(memItem))
		return true
	})
	return &memIterator{items: items, pos: -1}
}

func (s *memSnapshot) Close() {}
