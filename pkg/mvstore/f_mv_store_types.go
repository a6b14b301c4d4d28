package mvstore

import "bytes"

// Version is a logical commit time. Version 0 is the empty database.
type Version = uint64

type Pair[K any, V any] struct {
	Key K
	Val V
}

// KV is a user key paired with the value visible for it.
type KV = Pair[[]byte, Value]

func LessKV(a, b KV) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// Value is the payload recorded at a version. A deletion is recorded as a
// tombstone, never as the absence of an entry.
type Value struct {
	value     []byte
	tombstone bool
}

func NewValue(value []byte) Value {
	return Value{
		value: value,
	}
}

func Tombstone() Value {
	return Value{tombstone: true}
}

func (value Value) Slice() []byte {
	return value.value
}

func (value Value) IsTombstone() bool {
	return value.tombstone
}

// Delta is one intended mutation: a Set when Value is live, a Remove when it
// is a tombstone.
type Delta struct {
	Key   []byte
	Value Value
}

func Set(key, value []byte) Delta {
	return Delta{Key: key, Value: NewValue(value)}
}

func Remove(key []byte) Delta {
	return Delta{Key: key, Value: Tombstone()}
}

func (d Delta) IsRemove() bool {
	return d.Value.tombstone
}

// Applied describes one delta after it landed in its chain. Before is the
// newest live value the chain held right before the insert.
type Applied struct {
	Key       []byte
	Before    []byte
	HasBefore bool
	After     Value
}
