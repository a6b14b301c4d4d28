package txn

import (
	"bytes"

	"tiny_mvcc/pkg/mvstore"
)

// cursor is one ordered layer of a merge scan.
type cursor interface {
	valid() bool
	key() []byte
	value() mvstore.Value
	next()
}

type sliceCursor struct {
	kvs []mvstore.KV
	pos int
}

func (c *sliceCursor) valid() bool          { return c.pos < len(c.kvs) }
func (c *sliceCursor) key() []byte          { return c.kvs[c.pos].Key }
func (c *sliceCursor) value() mvstore.Value { return c.kvs[c.pos].Val }
func (c *sliceCursor) next()                { c.pos++ }

type storeCursor struct {
	it *mvstore.Iterator
}

func (c *storeCursor) valid() bool          { return c.it.Valid() }
func (c *storeCursor) key() []byte          { return c.it.Key() }
func (c *storeCursor) value() mvstore.Value { return c.it.Value() }
func (c *storeCursor) next()                { c.it.Next() }

// Iterator is an ordered view over a key range that merges a transaction's
// own writes, an optional cache layer and the store at the transaction's
// read version. For a key present in several layers the higher layer wins;
// a tombstone in a higher layer hides the key.
//
//	for it := txn.Range(lo, hi); it.Valid(); it.Next() {
//		use(it.Key(), it.Value())
//	}
//	it.Close()
type Iterator struct {
	cursors []cursor // highest priority first
	reverse bool

	curKey   []byte
	curValue mvstore.Value
	valid    bool
	err      error
}

func newIterator(reverse bool, cursors ...cursor) *Iterator {
	it := &Iterator{cursors: cursors, reverse: reverse}
	it.advance()
	return it
}

func newErrIterator(err error) *Iterator {
	return &Iterator{err: err}
}

func (it *Iterator) before(a, b []byte) bool {
	if it.reverse {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

func (it *Iterator) advance() {
	for {
		var (
			best  []byte
			value mvstore.Value
			found bool
		)
		for _, c := range it.cursors {
			if !c.valid() {
				continue
			}
			if !found || it.before(c.key(), best) {
				best, value, found = c.key(), c.value(), true
			}
		}
		if !found {
			it.valid = false
			it.curKey, it.curValue = nil, mvstore.Value{}
			return
		}

		for _, c := range it.cursors {
			if c.valid() && bytes.Equal(c.key(), best) {
				c.next()
			}
		}
		if value.IsTombstone() {
			continue
		}
		it.curKey, it.curValue, it.valid = best, value, true
		return
	}
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.valid
}

func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.advance()
}

func (it *Iterator) Key() []byte {
	return it.curKey
}

func (it *Iterator) Value() mvstore.Value {
	return it.curValue
}

// Err reports why the iterator could not be created.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() {
	for _, c := range it.cursors {
		if sc, ok := c.(*storeCursor); ok {
			sc.it.Close()
		}
	}
	it.cursors = nil
	it.valid = false
}
