package cache

import (
	"sync"

	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/mvstore"
)

// Layer is an ordered view sitting between a transaction's own writes and
// the committed store during reads. A tombstone in the layer hides the key.
type Layer interface {
	Get(key []byte) (mvstore.Value, bool)
	Scan(lo, hi []byte, reverse bool, fn func(kv mvstore.KV) bool)
}

var _ Layer = (*Overlay)(nil)

// Overlay is a Layer callers populate directly, e.g. with rows an upstream
// component has staged but not yet committed. It is safe for concurrent use.
type Overlay struct {
	lock  sync.RWMutex
	btree *btree.BTreeG[mvstore.KV]
}

func NewOverlay() *Overlay {
	return &Overlay{
		btree: btree.NewBTreeGOptions(mvstore.LessKV, btree.Options{NoLocks: true}),
	}
}

func (o *Overlay) Put(key, value []byte) {
	o.set(key, mvstore.NewValue(append([]byte(nil), value...)))
}

// Remove masks key with a tombstone.
func (o *Overlay) Remove(key []byte) {
	o.set(key, mvstore.Tombstone())
}

func (o *Overlay) set(key []byte, value mvstore.Value) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.btree.Set(mvstore.KV{Key: append([]byte(nil), key...), Val: value})
}

// Evict forgets key so reads fall through to the store.
func (o *Overlay) Evict(key []byte) bool {
	o.lock.Lock()
	defer o.lock.Unlock()

	_, ok := o.btree.Delete(mvstore.KV{Key: key})
	return ok
}

func (o *Overlay) Get(key []byte) (mvstore.Value, bool) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	kv, ok := o.btree.Get(mvstore.KV{Key: key})
	return kv.Val, ok
}

func (o *Overlay) Len() int {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return o.btree.Len()
}

// Scan visits a point-in-time copy of the overlay, so fn may call back into
// it.
func (o *Overlay) Scan(lo, hi []byte, reverse bool, fn func(kv mvstore.KV) bool) {
	o.lock.Lock()
	tree := o.btree.Copy()
	o.lock.Unlock()

	mvstore.ScanKV(tree, lo, hi, reverse, fn)
}
