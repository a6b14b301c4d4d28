package mvstore

import (
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/backend"
)

var diskFullErr = errors.New("disk full")

type failingBackend struct {
	backend.Backend
}

func (failingBackend) Write(*backend.Batch) error {
	return diskFullErr
}

func TestGetsAbsentBeforeTheFirstWrite(t *testing.T) {
	store := NewMVStore(nil)
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk"))}, 3))

	_, ok := store.Get([]byte("HDD"), 2)
	assert.False(t, ok)
	assert.True(t, store.ContainsKey([]byte("HDD"), 3))
}

func TestValueStaysVisibleUntilTheNextWrite(t *testing.T) {
	store := NewMVStore(nil)
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk"))}, 1))
	require.NoError(t, store.Apply([]Delta{Set([]byte("SSD"), []byte("Solid state"))}, 2))
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk drive"))}, 5))

	for version := Version(1); version < 5; version++ {
		value, ok := store.Get([]byte("HDD"), version)
		assert.True(t, ok)
		assert.Equal(t, []byte("Hard disk"), value.Slice())
	}
	value, ok := store.Get([]byte("HDD"), 5)
	assert.True(t, ok)
	assert.Equal(t, []byte("Hard disk drive"), value.Slice())
}

func TestTombstoneHidesTheKeyButKeepsHistory(t *testing.T) {
	store := NewMVStore(nil)
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk"))}, 1))
	require.NoError(t, store.Apply([]Delta{Remove([]byte("HDD"))}, 2))

	_, ok := store.Get([]byte("HDD"), 2)
	assert.False(t, ok)
	_, ok = store.Get([]byte("HDD"), 10)
	assert.False(t, ok)

	value, ok := store.Get([]byte("HDD"), 1)
	assert.True(t, ok)
	assert.Equal(t, []byte("Hard disk"), value.Slice())

	latest, ok := store.LatestVersion([]byte("HDD"))
	assert.True(t, ok)
	assert.Equal(t, Version(2), latest)
}

func TestApplyReportsBeforeValues(t *testing.T) {
	store := NewMVStore(nil)
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk"))}, 1))

	applied, err := store.Prepare([]Delta{
		Set([]byte("HDD"), []byte("Hard disk drive")),
		Set([]byte("SSD"), []byte("Solid state")),
	}).Apply(2)
	require.NoError(t, err)
	require.Len(t, applied, 2)

	assert.True(t, applied[0].HasBefore)
	assert.Equal(t, []byte("Hard disk"), applied[0].Before)
	assert.False(t, applied[1].HasBefore)
}

func TestReleasedIntentDoesNotBlockLaterWriters(t *testing.T) {
	store := NewMVStore(nil)
	released := store.Prepare([]Delta{Set([]byte("HDD"), []byte("never"))})
	later := store.Prepare([]Delta{Set([]byte("HDD"), []byte("Hard disk"))})

	released.Release()
	released.Release()
	_, err := later.Apply(2)
	require.NoError(t, err)

	value, ok := store.Get([]byte("HDD"), 2)
	assert.True(t, ok)
	assert.Equal(t, []byte("Hard disk"), value.Slice())

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, 1, stats.Versions)
}

func TestConcurrentAppliesOnDifferentKeys(t *testing.T) {
	store := NewMVStore(nil)

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte("Key:" + strconv.Itoa(i))
			assert.NoError(t, store.Apply([]Delta{Set(key, []byte(strconv.Itoa(i)))}, Version(i)))
		}(i)
	}
	wg.Wait()

	for i := 1; i <= 64; i++ {
		value, ok := store.Get([]byte("Key:"+strconv.Itoa(i)), 64)
		assert.True(t, ok)
		assert.Equal(t, []byte(strconv.Itoa(i)), value.Slice())
	}
}

func TestBackendFailureLeavesNothingVisible(t *testing.T) {
	store := NewMVStore(failingBackend{Backend: backend.NewMemory()})

	_, err := store.Prepare([]Delta{Set([]byte("HDD"), []byte("Hard disk"))}).Apply(1)
	assert.True(t, errors.Is(err, diskFullErr))

	_, ok := store.Get([]byte("HDD"), 1)
	assert.False(t, ok)

	// the released ticket lets the next writer through
	store.backend = nil
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk"))}, 2))
	assert.True(t, store.ContainsKey([]byte("HDD"), 2))
}

func TestRecoversCommittedVersionsFromTheBackend(t *testing.T) {
	memory := backend.NewMemory()
	store := NewMVStore(memory)
	require.NoError(t, store.Apply([]Delta{
		Set([]byte("HDD"), []byte("Hard disk")),
		Set([]byte("SSD"), []byte("Solid state")),
	}, 1))
	require.NoError(t, store.Apply([]Delta{Remove([]byte("HDD"))}, 2))
	require.NoError(t, store.Apply([]Delta{Set([]byte("HDD"), []byte("Hard disk drive"))}, 3))

	recovered := NewMVStore(memory)
	last, err := recovered.Recover()
	require.NoError(t, err)
	assert.Equal(t, Version(3), last)

	value, ok := recovered.Get([]byte("HDD"), 1)
	assert.True(t, ok)
	assert.Equal(t, []byte("Hard disk"), value.Slice())
	assert.False(t, recovered.ContainsKey([]byte("HDD"), 2))
	value, ok = recovered.Get([]byte("HDD"), 3)
	assert.True(t, ok)
	assert.Equal(t, []byte("Hard disk drive"), value.Slice())

	stats, err := recovered.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Keys: 2, Versions: 4, BackendRecords: 4}, stats)
}
