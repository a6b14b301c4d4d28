package txn

import "bytes"

type keyRange struct {
	lo, hi []byte
}

func (r keyRange) contains(key []byte) bool {
	if r.lo != nil && bytes.Compare(key, r.lo) < 0 {
		return false
	}
	return r.hi == nil || bytes.Compare(key, r.hi) < 0
}

// readSet records what a serializable command transaction observed: single
// keys from point reads and the bounds of every range it scanned, so that a
// key inserted into a scanned range also counts as a conflict.
type readSet struct {
	keys   map[string]struct{}
	ranges []keyRange
}

func newReadSet() *readSet {
	return &readSet{keys: make(map[string]struct{})}
}

func (r *readSet) addKey(key []byte) {
	r.keys[string(key)] = struct{}{}
}

func (r *readSet) addRange(lo, hi []byte) {
	r.ranges = append(r.ranges, keyRange{
		lo: append([]byte(nil), lo...),
		hi: append([]byte(nil), hi...),
	})
}

func (r *readSet) covers(key []byte) bool {
	if _, ok := r.keys[string(key)]; ok {
		return true
	}
	for _, kr := range r.ranges {
		if kr.contains(key) {
			return true
		}
	}
	return false
}

func (r *readSet) isEmpty() bool {
	return len(r.keys) == 0 && len(r.ranges) == 0
}

func (r *readSet) reset() {
	clear(r.keys)
	r.ranges = nil
}
