package main

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tiny_mvcc/pkg/config"
	"tiny_mvcc/pkg/db"
	"tiny_mvcc/pkg/txn"
)

// lockedBuffer is written by scenarios and by the change stream listener.
type lockedBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.Lock()
	defer b.Unlock()
	return b.buf.String()
}

func TestScenariosWriteToTheCommandOutput(t *testing.T) {
	out := new(lockedBuffer)
	rootCmd := newRootCommand()
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"scenarios"})

	require.NoError(t, rootCmd.Execute())

	output := out.String()
	assert.Contains(t, output, "v1 a exists=true value=1")
	assert.Contains(t, output, "conflict detected, retryable=true")
	assert.Contains(t, output, "scan c=pending")
	assert.Contains(t, output, "scan m=pending")
	assert.Contains(t, output, "cdc v1 #0 set a")
}

func TestMergeScanReportsAnOversizedTxn(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Txn.MaxBatchEntries = 1
	database, err := db.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer database.Stop()

	err = mergeScan(database, io.Discard)
	assert.ErrorIs(t, err, txn.TxnTooBigErr)
}
