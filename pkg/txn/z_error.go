package txn

import (
	"fmt"

	"github.com/pkg/errors"

	"tiny_mvcc/pkg/mvstore"
	"tiny_mvcc/pkg/pending"
)

var DbAlreadyStoppedErr = errors.New("db is stopped, can not perform the operation")
var ReadOnlyTxnErr = errors.New("txn is read-only, can not perform the operation")
var TxnConflictErr = errors.New("txn has conflict, can not commit")
var TxnDiscardedErr = errors.New("txn is already committed, aborted or discarded, can not perform the operation")
var TxnNotQueryErr = errors.New("txn is not a query txn, can not change its read version")
var VersionNotVisibleErr = errors.New("version is not visible yet, can not read at it")
var EmptyKeyErr = errors.New("key is empty, can not perform the operation")
var TxnTooBigErr = pending.TxnTooBigErr

// CommitError reports a commit that failed while persisting its version.
// Nothing of the commit is visible.
type CommitError struct {
	Version mvstore.Version
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of version %d failed: %v", e.Version, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether running the same work in a new transaction
// may succeed. Only conflicts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, TxnConflictErr)
}
