package db

import (
	"context"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tiny_mvcc/pkg/backend"
	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/config"
	"tiny_mvcc/pkg/txn"
)

func newTestDb(t *testing.T) *Db {
	db := New()
	t.Cleanup(func() { _ = db.Stop() })
	return db
}

func TestGetsTheValueOfANonExistingKey(t *testing.T) {
	db := newTestDb(t)
	err := db.View(func(txn *txn.Txn) error {
		_, exists, err := txn.Get([]byte("non-existing"))
		assert.False(t, exists)
		return err
	})
	assert.Nil(t, err)
}

func TestGetsTheValueOfAnExistingKey(t *testing.T) {
	db := newTestDb(t)
	err := db.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("HDD"), []byte("Hard disk"))
	})
	assert.Nil(t, err)

	err = db.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("HDD"), []byte("Hard disk drive"))
	})
	assert.Nil(t, err)

	_ = db.View(func(txn *txn.Txn) error {
		value, exists, err := txn.Get([]byte("HDD"))
		assert.Nil(t, err)
		assert.Equal(t, true, exists)
		assert.Equal(t, []byte("Hard disk drive"), value.Slice())
		return nil
	})
}

func TestPutsMultipleKeyValuesInATransaction(t *testing.T) {
	db := newTestDb(t)
	err := db.Update(func(txn *txn.Txn) error {
		for count := 1; count <= 100; count++ {
			if err := txn.Set([]byte("Key:"+strconv.Itoa(count)), []byte("Value:"+strconv.Itoa(count))); err != nil {
				return err
			}
		}
		return nil
	})
	assert.Nil(t, err)

	err = db.Update(func(txn *txn.Txn) error {
		for count := 1; count <= 100; count++ {
			if err := txn.Set([]byte("Key:"+strconv.Itoa(count)), []byte("Value#"+strconv.Itoa(count))); err != nil {
				return err
			}
		}
		return nil
	})
	assert.Nil(t, err)

	_ = db.View(func(txn *txn.Txn) error {
		for count := 1; count <= 100; count++ {
			value, exists, _ := txn.Get([]byte("Key:" + strconv.Itoa(count)))
			assert.Equal(t, true, exists)
			assert.Equal(t, []byte("Value#"+strconv.Itoa(count)), value.Slice())
		}
		return nil
	})
}

func TestInvolvesConflictingTransactions(t *testing.T) {
	db := newTestDb(t)

	reader, err := db.BeginCommand()
	require.NoError(t, err)
	_, _, _ = reader.Get([]byte("HDD"))
	require.NoError(t, reader.Set([]byte("SSD"), []byte("Solid state drive")))

	err = db.Update(func(transaction *txn.Txn) error {
		return transaction.Set([]byte("HDD"), []byte("Hard disk"))
	})
	assert.Nil(t, err)

	err = reader.Commit()
	assert.Error(t, err)
	assert.Equal(t, txn.TxnConflictErr, err)
}

func TestFailedUpdateLeavesNothingBehind(t *testing.T) {
	db := newTestDb(t)
	err := db.Update(func(txn *txn.Txn) error {
		_ = txn.Set([]byte("HDD"), []byte("Hard disk"))
		return txn.Set(nil, []byte("no key"))
	})
	assert.Equal(t, txn.EmptyKeyErr, err)

	_ = db.View(func(txn *txn.Txn) error {
		exists, _ := txn.ContainsKey([]byte("HDD"))
		assert.False(t, exists)
		return nil
	})
}

func TestUpdateWithRetryRerunsConflictingWork(t *testing.T) {
	db := newTestDb(t)
	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("counter"), []byte("0"))
	}))

	increment := func(txn *txn.Txn) error {
		value, _, err := txn.Get([]byte("counter"))
		if err != nil {
			return err
		}
		n, _ := strconv.Atoi(string(value.Slice()))
		return txn.Set([]byte("counter"), []byte(strconv.Itoa(n+1)))
	}

	var attempts atomic.Int32
	interfere := func(tx *txn.Txn) error {
		if attempts.Add(1) == 1 {
			require.NoError(t, db.Update(increment))
		}
		return increment(tx)
	}
	require.NoError(t, db.UpdateWithRetry(context.Background(), interfere))
	assert.Equal(t, int32(2), attempts.Load())

	db.cfg.Retry.MaxRetries = 1000
	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		group.Go(func() error {
			return db.UpdateWithRetry(ctx, increment)
		})
	}
	require.NoError(t, group.Wait())

	_ = db.View(func(txn *txn.Txn) error {
		value, _, _ := txn.Get([]byte("counter"))
		assert.Equal(t, "18", string(value.Slice()))
		return nil
	})
}

func TestUpdateWithRetryGivesUpOnOtherErrors(t *testing.T) {
	db := newTestDb(t)
	calls := 0
	err := db.UpdateWithRetry(context.Background(), func(txn *txn.Txn) error {
		calls++
		return txn.Set(nil, nil)
	})
	assert.Equal(t, txn.EmptyKeyErr, err)
	assert.Equal(t, 1, calls)
}

func TestSubscribersSeeEveryCommitInOrder(t *testing.T) {
	db := newTestDb(t)
	sub := db.Subscribe(16)
	var listened atomic.Int32
	db.AddListener(func(*cdc.ChangeSet) { listened.Add(1) })

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Update(func(txn *txn.Txn) error {
			return txn.Set([]byte("HDD"), []byte(strconv.Itoa(i)))
		}))
	}
	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		return txn.Remove([]byte("HDD"))
	}))
	require.NoError(t, db.Flush(context.Background()))
	assert.Equal(t, int32(6), listened.Load())

	for version := uint64(1); version <= 6; version++ {
		cs := <-sub.C()
		assert.Equal(t, version, cs.Version)
		require.Len(t, cs.Changes, 1)
	}

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), stats.VisibleVersion)
	assert.Equal(t, uint64(6), stats.DeliveredVersion)
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, 6, stats.Versions)
	assert.Equal(t, 6, stats.BackendRecords)
}

func TestStoppedDbRefusesTransactions(t *testing.T) {
	db := New()
	require.NoError(t, db.Stop())
	require.NoError(t, db.Stop())

	assert.Equal(t, txn.DbAlreadyStoppedErr, db.View(func(*txn.Txn) error { return nil }))
	assert.Equal(t, txn.DbAlreadyStoppedErr, db.Update(func(*txn.Txn) error { return nil }))
}

func TestRecoversFromLevelDB(t *testing.T) {
	memStorage := storage.NewMemStorage()
	open := func() *Db {
		levelDB, err := leveldb.Open(memStorage, nil)
		require.NoError(t, err)
		db, err := OpenWithBackend(config.NewDefaultConfig(), backend.NewLevelDB(levelDB, false), zap.NewNop())
		require.NoError(t, err)
		return db
	}

	db := open()
	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		_ = txn.Set([]byte("HDD"), []byte("Hard disk"))
		return txn.Set([]byte("SSD"), []byte("Solid state drive"))
	}))
	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		return txn.Remove([]byte("HDD"))
	}))
	require.NoError(t, db.Stop())

	db = open()
	defer db.Stop()
	_ = db.View(func(tx *txn.Txn) error {
		assert.Equal(t, uint64(2), tx.StartVersion())
		_, exists, _ := tx.Get([]byte("HDD"))
		assert.False(t, exists)
		value, exists, _ := tx.Get([]byte("SSD"))
		assert.True(t, exists)
		assert.Equal(t, []byte("Solid state drive"), value.Slice())

		require.NoError(t, tx.ReadAsOfVersionInclusive(1))
		value, _, _ = tx.Get([]byte("HDD"))
		assert.Equal(t, []byte("Hard disk"), value.Slice())
		return nil
	})

	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("NVMe"), []byte("Non-volatile memory"))
	}))
	_ = db.View(func(tx *txn.Txn) error {
		assert.Equal(t, uint64(3), tx.StartVersion())
		return nil
	})
}

func TestOpensALevelDBDirectory(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Backend.Type = config.BackendLevelDB
	cfg.Backend.Path = filepath.Join(t.TempDir(), "data")

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("HDD"), []byte("Hard disk"))
	}))
	require.NoError(t, db.Stop())

	db, err = Open(cfg, nil)
	require.NoError(t, err)
	defer db.Stop()
	_ = db.View(func(txn *txn.Txn) error {
		exists, _ := txn.ContainsKey([]byte("HDD"))
		assert.True(t, exists)
		return nil
	})
}

func TestFlushHonoursTheContext(t *testing.T) {
	db := newTestDb(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, db.Flush(ctx))
}

func TestUnreadSubscriptionDoesNotStallTheDb(t *testing.T) {
	db := newTestDb(t)
	_ = db.Subscribe(0)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			err := db.Update(func(txn *txn.Txn) error {
				return txn.Set([]byte("HDD"), []byte(strconv.Itoa(i)))
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- db.View(func(txn *txn.Txn) error {
			_, _, err := txn.Get([]byte("HDD"))
			return err
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("db stalled behind an unread subscription")
	}
}

func TestListenerCommitsDerivedRows(t *testing.T) {
	db := newTestDb(t)
	db.AddListener(func(cs *cdc.ChangeSet) {
		for _, change := range cs.Changes {
			if string(change.Key) != "src" {
				continue
			}
			err := db.Update(func(txn *txn.Txn) error {
				return txn.Set([]byte("view"), append([]byte("derived-"), change.After...))
			})
			assert.NoError(t, err)
		}
	})

	require.NoError(t, db.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("src"), []byte("1"))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.Flush(ctx))

	require.NoError(t, db.View(func(txn *txn.Txn) error {
		value, exists, err := txn.Get([]byte("view"))
		assert.True(t, exists)
		assert.Equal(t, "derived-1", string(value.Slice()))
		return err
	}))
}
