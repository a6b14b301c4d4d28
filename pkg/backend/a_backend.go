package backend

// Backend is the persistence interface the store writes committed versions
// through. Implementations are interchangeable; the record encoding belongs
// to the caller.
//
// Slices handed to Range callbacks are only valid for the duration of the
// callback. Callbacks must not call back into the backend.
type Backend interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Range visits [lo, hi) in ascending order; nil bounds are open.
	Range(lo, hi []byte, fn func(key, value []byte) bool) error
	// RangeRev visits [lo, hi) in descending order.
	RangeRev(lo, hi []byte, fn func(key, value []byte) bool) error
	Count() (int, error)

	// Write applies the whole batch atomically.
	Write(batch *Batch) error
	Close() error
}

type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

type Batch struct {
	ops []Op
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Key: key, Value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Key: key, Delete: true})
}

func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}
