package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tiny_mvcc/pkg/mvstore"
)

func layer(entries ...string) *sliceCursor {
	var kvs []mvstore.KV
	for i := 0; i < len(entries); i += 2 {
		value := mvstore.NewValue([]byte(entries[i+1]))
		if entries[i+1] == "" {
			value = mvstore.Tombstone()
		}
		kvs = append(kvs, mvstore.KV{Key: []byte(entries[i]), Val: value})
	}
	return &sliceCursor{kvs: kvs}
}

func reversed(c *sliceCursor) *sliceCursor {
	kvs := make([]mvstore.KV, len(c.kvs))
	for i, kv := range c.kvs {
		kvs[len(kvs)-1-i] = kv
	}
	return &sliceCursor{kvs: kvs}
}

func drain(it *Iterator) []string {
	var res []string
	for ; it.Valid(); it.Next() {
		res = append(res, string(it.Key())+"="+string(it.Value().Slice()))
	}
	return res
}

func TestHigherLayerWinsForTheSameKey(t *testing.T) {
	top := layer("b", "pending-b", "d", "pending-d")
	middle := layer("a", "cache-a", "b", "cache-b")
	bottom := layer("a", "store-a", "b", "store-b", "c", "store-c")

	it := newIterator(false, top, middle, bottom)
	assert.Equal(t, []string{"a=cache-a", "b=pending-b", "c=store-c", "d=pending-d"}, drain(it))
}

func TestTombstoneSuppressesLowerLayers(t *testing.T) {
	top := layer("b", "")
	bottom := layer("a", "1", "b", "2", "c", "3")

	assert.Equal(t, []string{"a=1", "c=3"}, drain(newIterator(false, top, bottom)))

	onlyTombstones := newIterator(false, layer("a", "", "b", ""), layer("a", "1", "b", "2"))
	assert.False(t, onlyTombstones.Valid())
}

func TestReverseMergeMirrorsForward(t *testing.T) {
	top := layer("b", "pending-b", "e", "")
	bottom := layer("a", "1", "b", "2", "c", "3", "e", "5")

	it := newIterator(true, reversed(top), reversed(bottom))
	assert.Equal(t, []string{"c=3", "b=pending-b", "a=1"}, drain(it))
}

func TestErrIteratorIsNeverValid(t *testing.T) {
	it := newErrIterator(TxnDiscardedErr)
	assert.False(t, it.Valid())
	assert.Equal(t, TxnDiscardedErr, it.Err())
	it.Next()
	it.Close()
}
