package pending

import (
	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/mvstore"
)

const (
	DefaultMaxBatchSize    = 16 << 20
	DefaultMaxBatchEntries = 100_000

	// entryOverhead approximates the per-entry cost of the btree node slot
	// and the value header.
	entryOverhead = 32
)

// Writes is the write buffer of one command transaction: an ordered map from
// key to the last value (or tombstone) the transaction staged for it. It is
// owned by a single transaction and is not safe for concurrent use.
type Writes struct {
	btree      *btree.BTreeG[mvstore.KV]
	size       int64
	maxSize    int64
	maxEntries int
}

func NewWrites(maxSize int64, maxEntries int) *Writes {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxBatchEntries
	}
	return &Writes{
		btree:      btree.NewBTreeGOptions(mvstore.LessKV, btree.Options{NoLocks: true}),
		maxSize:    maxSize,
		maxEntries: maxEntries,
	}
}

func EstimateSize(key []byte, value mvstore.Value) int64 {
	return int64(len(key) + len(value.Slice()) + entryOverhead)
}

func (writes *Writes) MaxBatchSize() int64 {
	return writes.maxSize
}

func (writes *Writes) MaxBatchEntries() int {
	return writes.maxEntries
}

// Insert stages value for key, replacing whatever was staged before. It
// fails with TxnTooBigErr, leaving the buffer untouched, when the write would
// push the buffer past either ceiling.
func (writes *Writes) Insert(key []byte, value mvstore.Value) error {
	size := writes.size + EstimateSize(key, value)
	entries := writes.btree.Len() + 1

	existing, ok := writes.btree.Get(mvstore.KV{Key: key})
	if ok {
		size -= EstimateSize(existing.Key, existing.Val)
		entries--
	}
	if size > writes.maxSize || entries > writes.maxEntries {
		return TxnTooBigErr
	}

	writes.btree.Set(mvstore.KV{Key: key, Val: value})
	writes.size = size
	return nil
}

// RemoveEntry drops whatever was staged for key, so reads fall through to
// the committed state again.
func (writes *Writes) RemoveEntry(key []byte) bool {
	existing, ok := writes.btree.Delete(mvstore.KV{Key: key})
	if ok {
		writes.size -= EstimateSize(existing.Key, existing.Val)
	}
	return ok
}

// Get returns the staged value for key. A staged removal is returned as a
// tombstone with ok set.
func (writes *Writes) Get(key []byte) (mvstore.Value, bool) {
	kv, ok := writes.btree.Get(mvstore.KV{Key: key})
	return kv.Val, ok
}

func (writes *Writes) ContainsKey(key []byte) bool {
	_, ok := writes.btree.Get(mvstore.KV{Key: key})
	return ok
}

// Range visits the staged entries inside [lo, hi), tombstones included.
func (writes *Writes) Range(lo, hi []byte, reverse bool, fn func(kv mvstore.KV) bool) {
	mvstore.ScanKV(writes.btree, lo, hi, reverse, fn)
}

func (writes *Writes) Rollback() {
	writes.btree.Clear()
	writes.size = 0
}

func (writes *Writes) Len() int {
	return writes.btree.Len()
}

func (writes *Writes) Size() int64 {
	return writes.size
}

func (writes *Writes) IsEmpty() bool {
	return writes.btree.Len() == 0
}

// Deltas returns the staged writes in key order, one per key.
func (writes *Writes) Deltas() []mvstore.Delta {
	deltas := make([]mvstore.Delta, 0, writes.btree.Len())
	writes.btree.Scan(func(kv mvstore.KV) bool {
		deltas = append(deltas, mvstore.Delta{Key: kv.Key, Value: kv.Val})
		return true
	})
	return deltas
}

// Keys returns the staged keys in order.
func (writes *Writes) Keys() [][]byte {
	keys := make([][]byte, 0, writes.btree.Len())
	writes.btree.Scan(func(kv mvstore.KV) bool {
		keys = append(keys, kv.Key)
		return true
	})
	return keys
}
