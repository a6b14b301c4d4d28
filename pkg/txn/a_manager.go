package txn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/metrics"
	"tiny_mvcc/pkg/mvstore"
)

type Options struct {
	Isolation       Isolation
	MaxBatchSize    int64
	MaxBatchEntries int
	ScanBatchSize   int
	Logger          *zap.Logger
}

// Manager runs transactions against one store. It owns the version
// allocator, the conflict tracker and the change emitter; nothing is shared
// between managers.
type Manager struct {
	stopped atomic.Bool
	// commits hold it shared; Stop takes it once to wait them out.
	inFlight sync.RWMutex
	store   *mvstore.MvStore
	oracle  *Oracle
	emitter *cdc.Emitter
	opts    Options
	logger  *zap.Logger
}

// NewManager starts a manager over store, whose newest committed version is
// lastVersion.
func NewManager(store *mvstore.MvStore, lastVersion mvstore.Version, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		oracle:  NewOracle(store, lastVersion),
		emitter: cdc.NewEmitter(lastVersion, logger),
		opts:    opts,
		logger:  logger,
	}
}

func (m *Manager) Emitter() *cdc.Emitter {
	return m.emitter
}

func (m *Manager) Store() *mvstore.MvStore {
	return m.store
}

// VisibleVersion is the newest version a new transaction would start at.
func (m *Manager) VisibleVersion() mvstore.Version {
	return m.oracle.visibleVersion()
}

// BeginQuery starts a read-only txn. It counts as active until Discard (or
// Rollback) is called, so callers defer Discard as Db.View does.
func (m *Manager) BeginQuery() (*Txn, error) {
	return m.begin(context.Background(), false, m.opts.Isolation)
}

// BeginCommand starts a txn that may write. Defer Discard so an abandoned
// txn is released.
func (m *Manager) BeginCommand() (*Txn, error) {
	return m.begin(context.Background(), true, m.opts.Isolation)
}

// BeginCommandWith starts a command txn validated with isolation instead of
// the manager's default.
func (m *Manager) BeginCommandWith(isolation Isolation) (*Txn, error) {
	return m.begin(context.Background(), true, isolation)
}

func (m *Manager) begin(ctx context.Context, update bool, isolation Isolation) (*Txn, error) {
	if m.stopped.Load() {
		return nil, DbAlreadyStoppedErr
	}
	startVersion, err := m.oracle.newReadVersion(ctx, update)
	if err != nil {
		return nil, err
	}
	return newTxn(m, update, isolation, startVersion), nil
}

func (m *Manager) commit(txn *Txn) error {
	start := time.Now()
	result := metrics.ResultCommitted
	defer func() {
		metrics.TxnCounter.WithLabelValues(result).Inc()
		metrics.TxnCommitDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	m.inFlight.RLock()
	defer m.inFlight.RUnlock()

	if m.stopped.Load() {
		result = metrics.ResultError
		m.oracle.doneRead(txn)
		txn.finish(Aborted)
		return DbAlreadyStoppedErr
	}

	if txn.writeSet.IsEmpty() {
		result = metrics.ResultEmpty
		m.oracle.doneRead(txn)
		txn.commitVersion = txn.startVersion
		txn.finish(Committed)
		return nil
	}

	intent, commitVersion, err := m.oracle.newCommitVersion(txn)
	if err != nil {
		result = metrics.ResultConflict
		m.logger.Debug("txn conflict",
			zap.Stringer("txn", txn.id),
			zap.Uint64("start-version", txn.startVersion))
		txn.finish(Aborted)
		return err
	}

	applied, err := intent.Apply(commitVersion)
	if err != nil {
		result = metrics.ResultError
		m.logger.Error("txn apply failed",
			zap.Stringer("txn", txn.id),
			zap.Uint64("commit-version", commitVersion),
			zap.Error(err))
		m.oracle.abortCommit(commitVersion)
		if skipErr := m.emitter.Skip(commitVersion); skipErr != nil {
			m.logger.Warn("cdc skip dropped",
				zap.Uint64("commit-version", commitVersion),
				zap.Error(skipErr))
		}
		txn.finish(Aborted)
		return &CommitError{Version: commitVersion, Err: err}
	}

	// Publish only queues, so doneCommit never waits on change stream
	// consumers.
	if err := m.emitter.Publish(cdc.NewChangeSet(commitVersion, time.Now(), applied)); err != nil {
		m.logger.Warn("cdc change set dropped",
			zap.Stringer("txn", txn.id),
			zap.Uint64("commit-version", commitVersion),
			zap.Error(err))
	}
	m.oracle.doneCommit(commitVersion)

	txn.commitVersion = commitVersion
	txn.finish(Committed)
	m.logger.Debug("txn committed",
		zap.Stringer("txn", txn.id),
		zap.Uint64("commit-version", commitVersion),
		zap.Int("writes", len(applied)))
	return nil
}

// Stop ends the manager once commits already under way have finished, so
// each of them reaches the change stream. Transactions still open keep their
// snapshot but cannot commit.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.inFlight.Lock()
	// Unlock before stopping the emitter; a listener may be committing on
	// its goroutine.
	m.inFlight.Unlock()

	m.emitter.Stop()
	m.oracle.Stop()
}
