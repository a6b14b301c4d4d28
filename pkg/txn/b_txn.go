package txn

import (
	"github.com/google/uuid"

	"tiny_mvcc/pkg/cache"
	"tiny_mvcc/pkg/metrics"
	"tiny_mvcc/pkg/mvstore"
	"tiny_mvcc/pkg/pending"
)

// Txn is a single transaction. A query txn only reads; a command txn also
// buffers writes and applies them on Commit. A Txn belongs to one goroutine.
// Every txn, query txns included, must end in Commit, Rollback or Discard.
type Txn struct {
	id        uuid.UUID
	update    bool
	isolation Isolation
	state     State
	manager   *Manager

	startVersion  mvstore.Version
	readVersion   mvstore.Version
	commitVersion mvstore.Version
	readDone      bool

	// workspace
	writeSet *pending.Writes
	readSet  *readSet
	snapshot *mvstore.Snapshot
	cache    cache.Layer
}

func newTxn(manager *Manager, update bool, isolation Isolation, startVersion mvstore.Version) *Txn {
	txn := &Txn{
		id:           uuid.New(),
		update:       update,
		isolation:    isolation,
		state:        Active,
		manager:      manager,
		startVersion: startVersion,
		readVersion:  startVersion,
		snapshot:     manager.store.Snapshot(startVersion),
	}
	if update {
		txn.writeSet = pending.NewWrites(manager.opts.MaxBatchSize, manager.opts.MaxBatchEntries)
		txn.readSet = newReadSet()
	}
	metrics.ActiveTxnGauge.WithLabelValues(txn.kind()).Inc()
	return txn
}

func (txn *Txn) ID() uuid.UUID {
	return txn.id
}

func (txn *Txn) IsUpdate() bool {
	return txn.update
}

func (txn *Txn) Isolation() Isolation {
	return txn.isolation
}

func (txn *Txn) State() State {
	return txn.state
}

// StartVersion is the version the transaction began at.
func (txn *Txn) StartVersion() mvstore.Version {
	return txn.startVersion
}

// ReadVersion is the version reads currently observe. It differs from the
// start version only after ReadAsOfVersion*.
func (txn *Txn) ReadVersion() mvstore.Version {
	return txn.readVersion
}

// CommitVersion is the version the transaction committed at; 0 until it has
// committed. A command txn without writes commits at its start version.
func (txn *Txn) CommitVersion() mvstore.Version {
	return txn.commitVersion
}

// WithCache places layer between the transaction's own writes and the store
// for all later reads.
func (txn *Txn) WithCache(layer cache.Layer) *Txn {
	txn.cache = layer
	return txn
}

func (txn *Txn) kind() string {
	if txn.update {
		return "command"
	}
	return "query"
}

func (txn *Txn) checkActive() error {
	if txn.state != Active {
		return TxnDiscardedErr
	}
	return nil
}

func (txn *Txn) recordsReads() bool {
	return txn.update && txn.isolation == Serializable
}

// Get returns the value of key as this transaction sees it: its own writes
// first, then the cache layer, then the store at the read version.
func (txn *Txn) Get(key []byte) (mvstore.Value, bool, error) {
	if err := txn.checkActive(); err != nil {
		return mvstore.Value{}, false, err
	}
	if txn.update {
		if value, ok := txn.writeSet.Get(key); ok {
			return visible(value)
		}
	}
	if txn.recordsReads() {
		txn.readSet.addKey(key)
	}
	if txn.cache != nil {
		if value, ok := txn.cache.Get(key); ok {
			return visible(value)
		}
	}
	value, ok := txn.snapshot.Get(key)
	return value, ok, nil
}

func visible(value mvstore.Value) (mvstore.Value, bool, error) {
	if value.IsTombstone() {
		return mvstore.Value{}, false, nil
	}
	return value, true, nil
}

func (txn *Txn) ContainsKey(key []byte) (bool, error) {
	_, ok, err := txn.Get(key)
	return ok, err
}

// Set stages key=value. Key and value are copied.
func (txn *Txn) Set(key, value []byte) error {
	if err := txn.checkWritable(key); err != nil {
		return err
	}
	return txn.writeSet.Insert(clone(key), mvstore.NewValue(clone(value)))
}

// Remove stages the deletion of key. Removing a key that does not exist is
// still recorded as a tombstone.
func (txn *Txn) Remove(key []byte) error {
	if err := txn.checkWritable(key); err != nil {
		return err
	}
	return txn.writeSet.Insert(clone(key), mvstore.Tombstone())
}

func (txn *Txn) checkWritable(key []byte) error {
	if !txn.update {
		return ReadOnlyTxnErr
	}
	if err := txn.checkActive(); err != nil {
		return err
	}
	if len(key) == 0 {
		return EmptyKeyErr
	}
	return nil
}

// Range iterates the live keys in [lo, hi) in ascending order. A nil bound is
// open.
func (txn *Txn) Range(lo, hi []byte) *Iterator {
	return txn.scan(lo, hi, false)
}

// RangeRev is Range in descending order.
func (txn *Txn) RangeRev(lo, hi []byte) *Iterator {
	return txn.scan(lo, hi, true)
}

func (txn *Txn) scan(lo, hi []byte, reverse bool) *Iterator {
	if err := txn.checkActive(); err != nil {
		return newErrIterator(err)
	}
	if txn.recordsReads() {
		txn.readSet.addRange(lo, hi)
	}

	var cursors []cursor
	if txn.update && !txn.writeSet.IsEmpty() {
		cursors = append(cursors, collect(func(fn func(kv mvstore.KV) bool) {
			txn.writeSet.Range(lo, hi, reverse, fn)
		}))
	}
	if txn.cache != nil {
		cursors = append(cursors, collect(func(fn func(kv mvstore.KV) bool) {
			txn.cache.Scan(lo, hi, reverse, fn)
		}))
	}
	cursors = append(cursors, &storeCursor{
		it: txn.snapshot.Iterator(lo, hi, reverse, txn.manager.opts.ScanBatchSize),
	})
	return newIterator(reverse, cursors...)
}

func collect(scan func(fn func(kv mvstore.KV) bool)) *sliceCursor {
	var kvs []mvstore.KV
	scan(func(kv mvstore.KV) bool {
		kvs = append(kvs, kv)
		return true
	})
	return &sliceCursor{kvs: kvs}
}

// ReadAsOfVersionExclusive pins a query txn to the state right before
// version was committed.
func (txn *Txn) ReadAsOfVersionExclusive(version mvstore.Version) error {
	if version == 0 {
		return VersionNotVisibleErr
	}
	return txn.readAsOf(version - 1)
}

// ReadAsOfVersionInclusive pins a query txn to the state right after version
// was committed.
func (txn *Txn) ReadAsOfVersionInclusive(version mvstore.Version) error {
	return txn.readAsOf(version)
}

func (txn *Txn) readAsOf(version mvstore.Version) error {
	if txn.update {
		return TxnNotQueryErr
	}
	if err := txn.checkActive(); err != nil {
		return err
	}
	if version > txn.manager.oracle.visibleVersion() {
		return VersionNotVisibleErr
	}
	txn.readVersion = version
	txn.snapshot = txn.manager.store.Snapshot(version)
	return nil
}

// Commit applies the buffered writes atomically at a new version and
// publishes them as one change set. On TxnConflictErr the work may be retried
// in a new transaction; any error leaves the transaction terminal.
func (txn *Txn) Commit() error {
	if !txn.update {
		return ReadOnlyTxnErr
	}
	if err := txn.checkActive(); err != nil {
		return err
	}
	txn.state = Committing
	return txn.manager.commit(txn)
}

// Rollback drops everything the transaction buffered. It fails on a
// transaction that has already finished.
func (txn *Txn) Rollback() error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	if txn.update {
		txn.writeSet.Rollback()
		txn.readSet.reset()
	}
	txn.manager.oracle.doneRead(txn)
	txn.finish(Discarded)
	return nil
}

// Discard is Rollback that can be deferred: it does nothing once the
// transaction has finished.
func (txn *Txn) Discard() {
	if txn.state == Active {
		_ = txn.Rollback()
	}
}

func (txn *Txn) finish(state State) {
	txn.state = state
	metrics.ActiveTxnGauge.WithLabelValues(txn.kind()).Dec()
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
