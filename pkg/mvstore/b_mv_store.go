package mvstore

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/backend"
)

func byChainKey(a, b *VersionChain) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MvStore is the multi-version store: the committed, shared mapping from key
// to VersionChain. It is mutated only through Intents, one whole commit at a
// time. The key index is published copy-on-write like the chains, so reads
// never take a lock; the mutex only serializes creation of new chains.
type MvStore struct {
	lock    sync.Mutex
	chains  atomic.Pointer[btree.BTreeG[*VersionChain]]
	backend backend.Backend
}

// NewMVStore creates a store. A nil backend keeps committed state in memory
// only.
func NewMVStore(b backend.Backend) *MvStore {
	mvStore := &MvStore{backend: b}
	mvStore.chains.Store(btree.NewBTreeGOptions(byChainKey, btree.Options{NoLocks: true}))
	return mvStore
}

func (mvStore *MvStore) chain(key []byte) (*VersionChain, bool) {
	return mvStore.chains.Load().Get(&VersionChain{key: key})
}

// Chain exposes the history of one key.
func (mvStore *MvStore) Chain(key []byte) (*VersionChain, bool) {
	return mvStore.chain(key)
}

func (mvStore *MvStore) getOrCreate(keys [][]byte) []*VersionChain {
	res := make([]*VersionChain, len(keys))
	current := mvStore.chains.Load()
	missing := false
	for i, key := range keys {
		if chain, ok := current.Get(&VersionChain{key: key}); ok {
			res[i] = chain
		} else {
			missing = true
		}
	}
	if !missing {
		return res
	}

	mvStore.lock.Lock()
	defer mvStore.lock.Unlock()

	current = mvStore.chains.Load()
	var next *btree.BTreeG[*VersionChain]
	for i, key := range keys {
		if res[i] != nil {
			continue
		}
		if chain, ok := current.Get(&VersionChain{key: key}); ok {
			res[i] = chain
			continue
		}
		if next == nil {
			next = current.Copy()
		}
		if chain, ok := next.Get(&VersionChain{key: key}); ok {
			res[i] = chain
			continue
		}
		chain := newVersionChain(append([]byte(nil), key...))
		next.Set(chain)
		res[i] = chain
	}
	if next != nil {
		mvStore.chains.Store(next)
	}
	return res
}

// Get returns the value of key visible at version. Tombstones and keys
// written only after version are absent.
func (mvStore *MvStore) Get(key []byte, version Version) (Value, bool) {
	chain, ok := mvStore.chain(key)
	if !ok {
		return Value{}, false
	}
	value, _, ok := chain.Get(version)
	if !ok || value.IsTombstone() {
		return Value{}, false
	}
	return value, true
}

func (mvStore *MvStore) ContainsKey(key []byte, version Version) bool {
	_, ok := mvStore.Get(key, version)
	return ok
}

// LatestVersion reports the newest version written to key, tombstones
// included.
func (mvStore *MvStore) LatestVersion(key []byte) (Version, bool) {
	chain, ok := mvStore.chain(key)
	if !ok {
		return 0, false
	}
	return chain.Latest()
}

// Intent is a commit record in flight: ordered deltas with one reserved
// insertion ticket per key. Exactly one of Apply or Release must be called.
type Intent struct {
	store   *MvStore
	deltas  []Delta
	chains  []*VersionChain
	tickets []uint64
	done    bool
}

// Prepare reserves the per-key insertion slots for deltas. Callers that race
// on the same keys must call Prepare in the order of their commit versions;
// the transaction manager does so inside its version allocation section.
// Keys must be unique within deltas.
func (mvStore *MvStore) Prepare(deltas []Delta) *Intent {
	keys := make([][]byte, len(deltas))
	for i, d := range deltas {
		keys[i] = d.Key
	}
	chains := mvStore.getOrCreate(keys)
	tickets := make([]uint64, len(chains))
	for i, chain := range chains {
		tickets[i] = chain.reserve()
	}
	return &Intent{store: mvStore, deltas: deltas, chains: chains, tickets: tickets}
}

func (in *Intent) Deltas() []Delta {
	return in.deltas
}

// Apply persists the deltas as one backend batch, then inserts one chain
// entry per delta tagged with version. A backend failure releases the
// reservation and nothing becomes visible.
func (in *Intent) Apply(version Version) ([]Applied, error) {
	if in.done {
		panic("mvstore: intent already applied or released")
	}
	in.done = true

	if err := in.store.persist(in.deltas, version); err != nil {
		in.skip()
		return nil, err
	}

	applied := make([]Applied, len(in.deltas))
	for i, d := range in.deltas {
		before, hasBefore := in.chains[i].insert(in.tickets[i], version, d.Value)
		applied[i] = Applied{
			Key:       in.chains[i].key,
			Before:    before,
			HasBefore: hasBefore,
			After:     d.Value,
		}
	}
	return applied, nil
}

// Release abandons the reservation.
func (in *Intent) Release() {
	if in.done {
		return
	}
	in.done = true
	in.skip()
}

func (in *Intent) skip() {
	for i, chain := range in.chains {
		chain.skip(in.tickets[i])
	}
}

// Apply writes deltas at version in one step.
func (mvStore *MvStore) Apply(deltas []Delta, version Version) error {
	_, err := mvStore.Prepare(deltas).Apply(version)
	return err
}

func (mvStore *MvStore) persist(deltas []Delta, version Version) error {
	if mvStore.backend == nil {
		return nil
	}
	batch := new(backend.Batch)
	for seq, d := range deltas {
		batch.Put(encodeRecordKey(version, uint32(seq)), encodeRecord(d))
	}
	return errors.Wrapf(mvStore.backend.Write(batch), "persist version %d", version)
}

// Recover replays the backend log into the chains and returns the highest
// version found. It must run before the store is shared.
func (mvStore *MvStore) Recover() (Version, error) {
	if mvStore.backend == nil {
		return 0, nil
	}

	var (
		last     Version
		batch    []Delta
		batchVer Version
		err      error
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		in := mvStore.Prepare(batch)
		in.done = true
		for i, d := range batch {
			in.chains[i].insert(in.tickets[i], batchVer, d.Value)
		}
		batch = nil
	}

	rangeErr := mvStore.backend.Range(recordLo, recordHi, func(k, v []byte) bool {
		var version Version
		version, _, err = decodeRecordKey(k)
		if err != nil {
			return false
		}
		var d Delta
		d, err = decodeRecord(v)
		if err != nil {
			return false
		}
		if version != batchVer {
			flush()
			batchVer = version
		}
		batch = append(batch, d)
		last = version
		return true
	})
	if rangeErr != nil {
		return 0, errors.Wrap(rangeErr, "recover store")
	}
	if err != nil {
		return 0, err
	}
	flush()
	return last, nil
}

type Stats struct {
	Keys           int
	Versions       int
	BackendRecords int
}

func (mvStore *MvStore) Stats() (Stats, error) {
	var stats Stats
	mvStore.chains.Load().Scan(func(chain *VersionChain) bool {
		if n := chain.Len(); n > 0 {
			stats.Keys++
			stats.Versions += n
		}
		return true
	})
	if mvStore.backend != nil {
		count, err := mvStore.backend.Count()
		if err != nil {
			return stats, err
		}
		stats.BackendRecords = count
	}
	return stats, nil
}
