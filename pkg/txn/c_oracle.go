package txn

import (
	"context"
	"sort"
	"sync"

	"tiny_mvcc/pkg/mvstore"
)

// Oracle hands out read and commit versions and decides conflicts. Commit
// validation, version allocation and ticket reservation in the store all
// happen inside one critical section, so validation order is commit order.
type Oracle struct {
	sync.Mutex
	nextVersion mvstore.Version

	// readMark tracks the start versions of active command transactions;
	// committed records at or below its DoneTill can no longer conflict with
	// anyone and are dropped.
	readMark *WaterMark
	// commitMark blocks new transactions until every commit at or below
	// their start version has been applied.
	commitMark *WaterMark

	committedTxns []committedTxn
	store         *mvstore.MvStore
}

type committedTxn struct {
	version mvstore.Version
	keys    [][]byte // sorted
}

func NewOracle(store *mvstore.MvStore, lastVersion mvstore.Version) *Oracle {
	return &Oracle{
		nextVersion: lastVersion + 1,
		readMark:    NewWaterMark(lastVersion),
		commitMark:  NewWaterMark(lastVersion),
		store:       store,
	}
}

func (o *Oracle) Stop() {
	o.readMark.Stop()
	o.commitMark.Stop()
}

// newReadVersion returns the version a new transaction reads at, once every
// commit up to it is visible.
func (o *Oracle) newReadVersion(ctx context.Context, command bool) (mvstore.Version, error) {
	o.Lock()
	readVersion := o.nextVersion - 1
	if command {
		o.readMark.Begin(readVersion)
	}
	o.Unlock()

	// Wait for commits that were allocated a version at or below readVersion
	// but are still being applied. Not waiting could miss some of them.
	if err := o.commitMark.WaitFor(ctx, readVersion); err != nil {
		if command {
			o.readMark.Done(readVersion)
		}
		return 0, err
	}
	return readVersion, nil
}

// newCommitVersion validates txn (when serializable), allocates its commit
// version and reserves its slots in the store. On success the caller must
// either doneCommit or abortCommit the version.
func (o *Oracle) newCommitVersion(txn *Txn) (*mvstore.Intent, mvstore.Version, error) {
	o.Lock()
	defer o.Unlock()

	if txn.isolation == Serializable && o.hasConflictFor(txn) {
		o.doneRead(txn)
		return nil, 0, TxnConflictErr
	}

	o.doneRead(txn)
	o.gcCommittedTxns()

	commitVersion := o.nextVersion
	o.nextVersion++

	intent := o.store.Prepare(txn.writeSet.Deltas())
	o.committedTxns = append(o.committedTxns, committedTxn{
		version: commitVersion,
		keys:    txn.writeSet.Keys(),
	})
	o.commitMark.Begin(commitVersion)
	return intent, commitVersion, nil
}

func (o *Oracle) doneRead(txn *Txn) {
	if !txn.update || txn.readDone {
		return
	}
	txn.readDone = true
	o.readMark.Done(txn.startVersion)
}

func (o *Oracle) doneCommit(commitVersion mvstore.Version) {
	o.commitMark.Done(commitVersion)
}

// abortCommit gives up an allocated version whose apply failed.
func (o *Oracle) abortCommit(commitVersion mvstore.Version) {
	o.Lock()
	for i, committed := range o.committedTxns {
		if committed.version == commitVersion {
			o.committedTxns = append(o.committedTxns[:i], o.committedTxns[i+1:]...)
			break
		}
	}
	o.Unlock()

	o.commitMark.Done(commitVersion)
}

// visibleVersion is the newest version whose commit, and every earlier one,
// has been applied.
func (o *Oracle) visibleVersion() mvstore.Version {
	return o.commitMark.DoneTill()
}

func (o *Oracle) hasConflictFor(txn *Txn) bool {
	if txn.readSet.isEmpty() {
		return false
	}
	for _, committed := range o.committedTxns {
		if committed.version <= txn.startVersion {
			continue
		}
		for _, key := range committed.keys {
			if txn.readSet.covers(key) {
				return true
			}
		}
	}
	return false
}

func (o *Oracle) gcCommittedTxns() {
	lastActiveReadVersion := o.readMark.DoneTill()
	cut := sort.Search(len(o.committedTxns), func(i int) bool {
		return o.committedTxns[i].version > lastActiveReadVersion
	})
	if cut == 0 {
		return
	}
	o.committedTxns = append(o.committedTxns[:0], o.committedTxns[cut:]...)
}
