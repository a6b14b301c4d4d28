package cdc

import (
	"time"

	"tiny_mvcc/pkg/mvstore"
)

type Op int

const (
	OpSet Op = iota
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is the record of one applied delta. Seq orders the changes of one
// version, starting at 0.
type Change struct {
	Version   mvstore.Version
	Seq       uint32
	Timestamp time.Time
	Key       []byte
	Op        Op
	Before    []byte
	HasBefore bool
	After     []byte
}

// ChangeSet holds every change of one commit. Consumers always receive a
// commit whole.
type ChangeSet struct {
	Version   mvstore.Version
	Timestamp time.Time
	Changes   []Change
}

func NewChangeSet(version mvstore.Version, timestamp time.Time, applied []mvstore.Applied) *ChangeSet {
	changes := make([]Change, len(applied))
	for seq, a := range applied {
		change := Change{
			Version:   version,
			Seq:       uint32(seq),
			Timestamp: timestamp,
			Key:       a.Key,
			Op:        OpSet,
			Before:    a.Before,
			HasBefore: a.HasBefore,
			After:     a.After.Slice(),
		}
		if a.After.IsTombstone() {
			change.Op = OpRemove
		}
		changes[seq] = change
	}
	return &ChangeSet{
		Version:   version,
		Timestamp: timestamp,
		Changes:   changes,
	}
}
