package engine

import (
	"github.com/cockroachdb/pebble"
	"github.com/pingcap/errors"
)

// PebbleAdapter implements Adapter on top of a single pebble.DB, emulating
// column families by prefixing every key with "<cf>_", the same trick
// talent-plan-tinykv/kv/util/engine_util/cf_iterator.go uses over badger.
// pebble has no native CF concept, but its prefix iteration and snapshots
// make the emulation cheap.
type PebbleAdapter struct {
	db *pebble.DB
}

// NewPebbleAdapter opens (or creates) a pebble store at path.
func NewPebbleAdapter(path string, cacheSize int64, syncWrites bool) (*PebbleAdapter, error) {
	opts := &pebble.Options{
		Cache: pebble.NewCache(cacheSize),
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &PebbleAdapter{db: db}, nil
}

func cfKey(cf string, key []byte) []byte {
	out := make([]byte, 0, len(cf)+1+len(key))
	out = append(out, cf...)
	out = append(out, '_')
	out = append(out, key...)
	return out
}

func (a *PebbleAdapter) syncOpt() *pebble.WriteOptions {
	return pebble.Sync
}

func (a *PebbleAdapter) Write(batch []Modify) error {
	b := a.db.NewBatch()
	defer b.Close()
	for _, m := range batch {
		k := cfKey(m.CF, m.Key)
		if m.Delete {
			if err := b.Delete(k, nil); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		if err := b.Set(k, m.Value, nil); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(b.Commit(a.syncOpt()))
}

func (a *PebbleAdapter) Get(cf string, key []byte) ([]byte, error) {
	v, closer, err := a.db.Get(cfKey(cf, key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

func (a *PebbleAdapter) IterCF(cf string) Iterator {
	iter, _ := a.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(cf + "_"),
		UpperBound: cfUpperBound(cf),
	})
	return &pebbleIterator{iter: iter, cf: cf, prefixLen: len(cf) + 1}
}

func (a *PebbleAdapter) Snapshot() (Snapshot, error) {
	snap := a.db.NewSnapshot()
	return &pebbleSnapshot{snap: snap}, nil
}

func (a *PebbleAdapter) Close() error {
	return errors.Trace(a.db.Close())
}

// cfUpperBound returns the exclusive upper bound covering exactly the keys
// prefixed by "<cf>_", by incrementing the prefix's last byte.
func cfUpperBound(cf string) []byte {
	prefix := []byte(cf + "_")
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded above
}

type pebbleIterator struct {
	iter      *pebble.Iterator
	cf        string
	prefixLen int
}

func (it *pebbleIterator) Seek(key []byte) {
	it.iter.SeekGE(cfKey(it.cf, key))
}

func (it *pebbleIterator) Valid() bool {
	return it.iter.Valid()
}

func (it *pebbleIterator) Next() {
	it.iter.Next()
}

func (it *pebbleIterator) Item() (key, value []byte) {
	k := it.iter.Key()
	return k[it.prefixLen:], it.iter.Value()
}

func (it *pebbleIterator) Close() {
	it.iter.Close()
}

type pebbleSnapshot struct {
	snap *pebble.Snapshot
}

func (s *pebbleSnapshot) Get(cf string, key []byte) ([]byte, error) {
	v, closer, err := s.snap.Get(cfKey(cf, key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

func (s *pebbleSnapshot) IterCF(cf string) Iterator {
	iter, _ := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: []byte(cf + "_"),
		UpperBound: cfUpperBound(cf),
	})
	return &pebbleIterator{iter: iter, cf: cf, prefixLen: len(cf) + 1}
}

func (s *pebbleSnapshot) Close() {
	s.snap.Close()
}
