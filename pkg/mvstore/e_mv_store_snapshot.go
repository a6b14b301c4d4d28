package mvstore

// Snapshot is the store pinned at one version. It holds no copy of the data:
// chains are append-only, so entries at or below ts never change.
type Snapshot struct {
	ts      Version
	mvStore *MvStore
}

func (mvStore *MvStore) Snapshot(ts Version) *Snapshot {
	return &Snapshot{
		ts:      ts,
		mvStore: mvStore,
	}
}

func (snapshot *Snapshot) Version() Version {
	return snapshot.ts
}

func (snapshot *Snapshot) Get(key []byte) (Value, bool) {
	return snapshot.mvStore.Get(key, snapshot.ts)
}

func (snapshot *Snapshot) ContainsKey(key []byte) bool {
	return snapshot.mvStore.ContainsKey(key, snapshot.ts)
}

func (snapshot *Snapshot) Iterator(lo, hi []byte, reverse bool, batchSize int) *Iterator {
	return snapshot.mvStore.NewIterator(lo, hi, snapshot.ts, reverse, batchSize)
}
