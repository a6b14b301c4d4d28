package backend

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ Backend = (*LevelDB)(nil)

// LevelDB is a durable backend using leveldb.
type LevelDB struct {
	*leveldb.DB
	syncWrite bool
}

func OpenLevelDB(path string, syncWrite bool) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return NewLevelDB(db, syncWrite), nil
}

func NewLevelDB(db *leveldb.DB, syncWrite bool) *LevelDB {
	return &LevelDB{DB: db, syncWrite: syncWrite}
}

func (kv *LevelDB) Get(key []byte) ([]byte, bool, error) {
	v, err := kv.DB.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	return v, true, nil
}

func (kv *LevelDB) Put(key, value []byte) error {
	return errors.WithStack(kv.DB.Put(key, value, kv.writeOptions()))
}

func (kv *LevelDB) Delete(key []byte) error {
	return errors.WithStack(kv.DB.Delete(key, kv.writeOptions()))
}

func (kv *LevelDB) Range(lo, hi []byte, fn func(key, value []byte) bool) error {
	iter := kv.NewIterator(&util.Range{Start: lo, Limit: hi}, nil)
	defer iter.Release()

	for iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return errors.WithStack(iter.Error())
}

func (kv *LevelDB) RangeRev(lo, hi []byte, fn func(key, value []byte) bool) error {
	iter := kv.NewIterator(&util.Range{Start: lo, Limit: hi}, nil)
	defer iter.Release()

	for ok := iter.Last(); ok; ok = iter.Prev() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return errors.WithStack(iter.Error())
}

func (kv *LevelDB) Count() (int, error) {
	count := 0
	err := kv.Range(nil, nil, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}

func (kv *LevelDB) Write(batch *Batch) error {
	lb := new(leveldb.Batch)
	for _, op := range batch.Ops() {
		if op.Delete {
			lb.Delete(op.Key)
		} else {
			lb.Put(op.Key, op.Value)
		}
	}
	return errors.WithStack(kv.DB.Write(lb, kv.writeOptions()))
}

func (kv *LevelDB) Close() error {
	return errors.WithStack(kv.DB.Close())
}

func (kv *LevelDB) writeOptions() *opt.WriteOptions {
	return &opt.WriteOptions{Sync: kv.syncWrite}
}
