package mvstore

import (
	"bytes"

	"github.com/tidwall/btree"
)

const DefaultScanBatchSize = 128

// ScanBatch returns up to limit live entries visible at version inside
// [lo, hi), ascending (or descending when reverse). When after is non-nil the
// scan resumes strictly past it, which is how cursors refill.
func (mvStore *MvStore) ScanBatch(lo, hi []byte, version Version, after []byte, limit int, reverse bool) []KV {
	if limit <= 0 {
		limit = DefaultScanBatchSize
	}
	res := make([]KV, 0, limit)
	visit := func(chain *VersionChain) bool {
		if after != nil && bytes.Equal(chain.key, after) {
			return true
		}
		if !reverse && hi != nil && bytes.Compare(chain.key, hi) >= 0 {
			return false
		}
		if reverse {
			if hi != nil && bytes.Compare(chain.key, hi) >= 0 {
				return true
			}
			if lo != nil && bytes.Compare(chain.key, lo) < 0 {
				return false
			}
		}
		value, _, ok := chain.Get(version)
		if ok && !value.IsTombstone() {
			res = append(res, KV{Key: chain.key, Val: value})
		}
		return len(res) < limit
	}

	chains := mvStore.chains.Load()
	switch {
	case !reverse && after != nil:
		chains.Ascend(&VersionChain{key: after}, visit)
	case !reverse && lo != nil:
		chains.Ascend(&VersionChain{key: lo}, visit)
	case !reverse:
		chains.Scan(visit)
	case after != nil:
		chains.Descend(&VersionChain{key: after}, visit)
	case hi != nil:
		chains.Descend(&VersionChain{key: hi}, visit)
	default:
		chains.Reverse(visit)
	}
	return res
}

// Iterator walks the keys visible at one version, refilling from the store
// in bounded batches.
type Iterator struct {
	store     *MvStore
	lo, hi    []byte
	version   Version
	reverse   bool
	batchSize int

	buf       []KV
	pos       int
	exhausted bool
	refills   int
}

// Range iterates [lo, hi) at version in ascending key order, skipping
// tombstones.
func (mvStore *MvStore) Range(lo, hi []byte, version Version) *Iterator {
	return mvStore.NewIterator(lo, hi, version, false, DefaultScanBatchSize)
}

// RangeRev is Range in descending key order.
func (mvStore *MvStore) RangeRev(lo, hi []byte, version Version) *Iterator {
	return mvStore.NewIterator(lo, hi, version, true, DefaultScanBatchSize)
}

func (mvStore *MvStore) NewIterator(lo, hi []byte, version Version, reverse bool, batchSize int) *Iterator {
	if batchSize <= 0 {
		batchSize = DefaultScanBatchSize
	}
	it := &Iterator{
		store:     mvStore,
		lo:        lo,
		hi:        hi,
		version:   version,
		reverse:   reverse,
		batchSize: batchSize,
	}
	it.fill(nil)
	return it
}

func (it *Iterator) fill(after []byte) {
	it.buf = it.store.ScanBatch(it.lo, it.hi, it.version, after, it.batchSize, it.reverse)
	it.pos = 0
	it.refills++
	if len(it.buf) < it.batchSize {
		it.exhausted = true
	}
}

func (it *Iterator) Valid() bool {
	return it.pos < len(it.buf)
}

func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.pos++
	if it.pos < len(it.buf) {
		return
	}
	if it.exhausted {
		return
	}
	it.fill(it.buf[len(it.buf)-1].Key)
}

func (it *Iterator) Key() []byte {
	return it.buf[it.pos].Key
}

func (it *Iterator) Value() Value {
	return it.buf[it.pos].Val
}

// Refills reports how many batches the iterator has fetched.
func (it *Iterator) Refills() int {
	return it.refills
}

func (it *Iterator) Close() {
	it.buf = nil
	it.pos = 0
	it.exhausted = true
}

// ScanKV visits the entries of an ordered KV tree inside [lo, hi).
func ScanKV(tree *btree.BTreeG[KV], lo, hi []byte, reverse bool, fn func(kv KV) bool) {
	if !reverse {
		visit := func(kv KV) bool {
			if hi != nil && bytes.Compare(kv.Key, hi) >= 0 {
				return false
			}
			return fn(kv)
		}
		if lo == nil {
			tree.Scan(visit)
		} else {
			tree.Ascend(KV{Key: lo}, visit)
		}
		return
	}

	visit := func(kv KV) bool {
		if hi != nil && bytes.Compare(kv.Key, hi) >= 0 {
			return true
		}
		if lo != nil && bytes.Compare(kv.Key, lo) < 0 {
			return false
		}
		return fn(kv)
	}
	if hi == nil {
		tree.Reverse(visit)
	} else {
		tree.Descend(KV{Key: hi}, visit)
	}
}
