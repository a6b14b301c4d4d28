package db

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"tiny_mvcc/pkg/backend"
	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/config"
	"tiny_mvcc/pkg/mvstore"
	"tiny_mvcc/pkg/txn"
)

type Db struct {
	stopped atomic.Bool
	manager *txn.Manager
	mvStore *mvstore.MvStore
	backend backend.Backend
	cfg     *config.Config
	logger  *zap.Logger
}

// New opens an in-memory database with the default config.
func New() *Db {
	db, err := Open(config.NewDefaultConfig(), zap.NewNop())
	if err != nil {
		panic(err)
	}
	return db
}

// Open builds a database from cfg. With a durable backend the committed
// versions found there are replayed first.
func Open(cfg *config.Config, logger *zap.Logger) (*Db, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var b backend.Backend
	switch cfg.Backend.Type {
	case config.BackendLevelDB:
		levelDB, err := backend.OpenLevelDB(cfg.Backend.Path, cfg.Backend.SyncWrite)
		if err != nil {
			return nil, err
		}
		b = levelDB
	default:
		b = backend.NewMemory()
	}
	return OpenWithBackend(cfg, b, logger)
}

// OpenWithBackend is Open over an already opened backend. The Db owns b from
// here on and closes it on Stop.
func OpenWithBackend(cfg *config.Config, b backend.Backend, logger *zap.Logger) (*Db, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mvStore := mvstore.NewMVStore(b)
	lastVersion, err := mvStore.Recover()
	if err != nil {
		_ = b.Close()
		return nil, errors.Wrap(err, "open db")
	}
	logger.Info("db opened",
		zap.String("backend", cfg.Backend.Type),
		zap.Stringer("isolation", cfg.Txn.Isolation),
		zap.Uint64("last-version", lastVersion))

	opts := cfg.TxnOptions()
	opts.Logger = logger
	return &Db{
		manager: txn.NewManager(mvStore, lastVersion, opts),
		mvStore: mvStore,
		backend: b,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

func (db *Db) View(fn func(txn *txn.Txn) error) error {
	newTxn, err := db.BeginQuery()
	if err != nil {
		return err
	}
	defer newTxn.Discard()

	return fn(newTxn)
}

func (db *Db) Update(fn func(txn *txn.Txn) error) error {
	newTxn, err := db.BeginCommand()
	if err != nil {
		return err
	}
	defer newTxn.Discard() // releases the txn if fn fails before commit.

	if err := fn(newTxn); err != nil {
		return err
	}
	return newTxn.Commit()
}

// UpdateWithRetry runs Update and re-runs fn in a fresh transaction, with
// capped exponential backoff, for as long as the commit conflicts and the
// retry budget lasts. Any other error is returned at once.
func (db *Db) UpdateWithRetry(ctx context.Context, fn func(txn *txn.Txn) error) error {
	backoff := retry.NewExponential(db.cfg.Retry.BaseDelay.Duration)
	backoff = retry.WithCappedDuration(db.cfg.Retry.MaxDelay.Duration, backoff)
	backoff = retry.WithMaxRetries(db.cfg.Retry.MaxRetries, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := db.Update(fn)
		if txn.IsRetryable(err) {
			db.logger.Debug("update conflicted, retrying", zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		return err
	})
}

// BeginQuery starts a read-only txn outside View. The caller must Discard it
// when done.
func (db *Db) BeginQuery() (*txn.Txn, error) {
	if db.stopped.Load() {
		return nil, txn.DbAlreadyStoppedErr
	}
	return db.manager.BeginQuery()
}

func (db *Db) BeginCommand() (*txn.Txn, error) {
	if db.stopped.Load() {
		return nil, txn.DbAlreadyStoppedErr
	}
	return db.manager.BeginCommand()
}

func (db *Db) BeginCommandWith(isolation txn.Isolation) (*txn.Txn, error) {
	if db.stopped.Load() {
		return nil, txn.DbAlreadyStoppedErr
	}
	return db.manager.BeginCommandWith(isolation)
}

// Subscribe streams every commit made from now on, one change set per
// commit, in version order.
func (db *Db) Subscribe(buffer int) *cdc.Subscription {
	return db.manager.Emitter().Subscribe(buffer)
}

func (db *Db) AddListener(listener cdc.Listener) {
	db.manager.Emitter().AddListener(listener)
}

// Flush waits until every commit made so far has reached the change stream
// consumers.
func (db *Db) Flush(ctx context.Context) error {
	return db.manager.Emitter().Flush(ctx)
}

type Stats struct {
	mvstore.Stats
	VisibleVersion   mvstore.Version
	DeliveredVersion mvstore.Version
}

func (db *Db) Stats() (Stats, error) {
	storeStats, err := db.mvStore.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:            storeStats,
		VisibleVersion:   db.manager.VisibleVersion(),
		DeliveredVersion: db.manager.Emitter().Delivered(),
	}, nil
}

// Stop shuts the database down and closes the backend. Call Flush first to
// be sure consumers saw every commit.
func (db *Db) Stop() error {
	if !db.stopped.CompareAndSwap(false, true) {
		return nil
	}
	db.manager.Stop()
	db.logger.Info("db stopped")
	return db.backend.Close()
}
