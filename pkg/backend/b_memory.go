package backend

import (
	"bytes"
	"sync"

	"github.com/tidwall/btree"
)

type item struct {
	key   []byte
	value []byte
}

func byKey(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

var _ Backend = (*Memory)(nil)

// Memory keeps records in an ordered btree. The outer lock makes batches
// atomic with respect to readers.
type Memory struct {
	lock  sync.RWMutex
	btree *btree.BTreeG[item]
}

func NewMemory() *Memory {
	return &Memory{
		btree: btree.NewBTreeGOptions(byKey, btree.Options{NoLocks: true}),
	}
}

func (m *Memory) Get(key []byte) ([]byte, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	res, ok := m.btree.Get(item{key: key})
	return res.value, ok, nil
}

func (m *Memory) Put(key, value []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.btree.Set(item{key: clone(key), value: clone(value)})
	return nil
}

func (m *Memory) Delete(key []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.btree.Delete(item{key: key})
	return nil
}

func (m *Memory) Range(lo, hi []byte, fn func(key, value []byte) bool) error {
	m.lock.RLock()
	defer m.lock.RUnlock()

	visit := func(it item) bool {
		if hi != nil && bytes.Compare(it.key, hi) >= 0 {
			return false
		}
		return fn(it.key, it.value)
	}
	if lo == nil {
		m.btree.Scan(visit)
	} else {
		m.btree.Ascend(item{key: lo}, visit)
	}
	return nil
}

func (m *Memory) RangeRev(lo, hi []byte, fn func(key, value []byte) bool) error {
	m.lock.RLock()
	defer m.lock.RUnlock()

	visit := func(it item) bool {
		if hi != nil && bytes.Compare(it.key, hi) >= 0 {
			return true // Descend includes the pivot itself.
		}
		if lo != nil && bytes.Compare(it.key, lo) < 0 {
			return false
		}
		return fn(it.key, it.value)
	}
	if hi == nil {
		m.btree.Reverse(visit)
	} else {
		m.btree.Descend(item{key: hi}, visit)
	}
	return nil
}

func (m *Memory) Count() (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.btree.Len(), nil
}

func (m *Memory) Write(batch *Batch) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, op := range batch.Ops() {
		if op.Delete {
			m.btree.Delete(item{key: op.Key})
			continue
		}
		m.btree.Set(item{key: clone(op.Key), value: clone(op.Value)})
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
