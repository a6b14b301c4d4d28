package pending

import "github.com/pkg/errors"

var TxnTooBigErr = errors.New("txn exceeds the batch size or entry limit, split the work across transactions")
