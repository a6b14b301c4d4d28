package mvstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
)

type chainEntry struct {
	version Version
	value   Value
}

func byVersion(a, b chainEntry) bool {
	return a.version < b.version
}

// VersionChain is the append-only history of one key.
//
// The entries live in a copy-on-write btree published through an atomic
// pointer: readers load the current tree and search it without locking, the
// single writer allowed at a time clones, inserts and publishes.
//
// Writers take a ticket while the commit version is allocated and insert in
// ticket order, so commits touching the same key land in version order while
// commits on different keys never wait for each other.
type VersionChain struct {
	key     []byte
	entries atomic.Pointer[btree.BTreeG[chainEntry]]

	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64 // next ticket to hand out
	serving uint64 // ticket allowed to write
}

func newVersionChain(key []byte) *VersionChain {
	chain := &VersionChain{key: key}
	chain.cond = sync.NewCond(&chain.mu)
	chain.entries.Store(btree.NewBTreeGOptions(byVersion, btree.Options{NoLocks: true}))
	return chain
}

func (c *VersionChain) Key() []byte {
	return c.key
}

// Get returns the newest entry recorded at or before version.
func (c *VersionChain) Get(version Version) (Value, Version, bool) {
	var (
		found chainEntry
		ok    bool
	)
	c.entries.Load().Descend(chainEntry{version: version}, func(e chainEntry) bool {
		found, ok = e, true
		return false
	})
	return found.value, found.version, ok
}

// Latest returns the newest version recorded in the chain.
func (c *VersionChain) Latest() (Version, bool) {
	e, ok := c.entries.Load().Max()
	return e.version, ok
}

func (c *VersionChain) Len() int {
	return c.entries.Load().Len()
}

// History calls fn for every entry, oldest first.
func (c *VersionChain) History(fn func(version Version, value Value) bool) {
	c.entries.Load().Scan(func(e chainEntry) bool {
		return fn(e.version, e.value)
	})
}

func (c *VersionChain) reserve() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ticket := c.next
	c.next++
	return ticket
}

func (c *VersionChain) awaitTurn(ticket uint64) {
	for c.serving != ticket {
		c.cond.Wait()
	}
}

func (c *VersionChain) advance() {
	c.serving++
	c.cond.Broadcast()
}

func (c *VersionChain) insert(ticket uint64, version Version, value Value) (before []byte, hasBefore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitTurn(ticket)
	defer c.advance()

	current := c.entries.Load()
	if latest, ok := current.Max(); ok {
		if latest.version >= version {
			panic(fmt.Sprintf("mvstore: version %d already used for key %q (latest %d)", version, c.key, latest.version))
		}
		if !latest.value.IsTombstone() {
			before, hasBefore = latest.value.Slice(), true
		}
	}

	next := current.Copy()
	next.Set(chainEntry{version: version, value: value})
	c.entries.Store(next)
	return before, hasBefore
}

// skip gives up a reserved ticket without writing.
func (c *VersionChain) skip(ticket uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitTurn(ticket)
	c.advance()
}
