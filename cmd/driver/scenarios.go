package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/db"
	"tiny_mvcc/pkg/txn"
)

func newScenariosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "Run the read, conflict, merge-scan and change stream scenarios",
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, logger, err := openDb()
			if err != nil {
				return err
			}
			defer database.Stop()
			defer logger.Sync()

			out := cmd.OutOrStdout()
			database.AddListener(func(cs *cdc.ChangeSet) {
				for _, change := range cs.Changes {
					fmt.Fprintf(out, "cdc v%d #%d %s %s before=%q after=%q\n",
						change.Version, change.Seq, change.Op, change.Key, change.Before, change.After)
				}
			})

			for _, scenario := range []struct {
				name string
				run  func(*db.Db, io.Writer) error
			}{
				{"read and write", readAndWrite},
				{"conflict", conflict},
				{"merge scan", mergeScan},
				{"remove then set", removeThenSet},
			} {
				logger.Info("running scenario", zap.String("name", scenario.name))
				if err := scenario.run(database, out); err != nil {
					return errors.Wrapf(err, "scenario %s", scenario.name)
				}
				if err := database.Flush(cmd.Context()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func readAndWrite(database *db.Db, out io.Writer) error {
	err := database.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("a"), []byte("1"))
	})
	if err != nil {
		return err
	}
	return database.View(func(txn *txn.Txn) error {
		value, exists, err := txn.Get([]byte("a"))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "v%d a exists=%v value=%s\n", txn.StartVersion(), exists, value.Slice())
		return nil
	})
}

func conflict(database *db.Db, out io.Writer) error {
	reader, err := database.BeginCommand()
	if err != nil {
		return err
	}
	defer reader.Discard()
	if _, _, err := reader.Get([]byte("a")); err != nil {
		return err
	}

	err = database.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("a"), []byte("2"))
	})
	if err != nil {
		return err
	}

	if err := reader.Set([]byte("b"), []byte("x")); err != nil {
		return err
	}
	err = reader.Commit()
	if !errors.Is(err, txn.TxnConflictErr) {
		return errors.Errorf("expected a conflict, got %v", err)
	}
	fmt.Fprintf(out, "conflict detected, retryable=%v\n", txn.IsRetryable(err))

	return database.UpdateWithRetry(context.Background(), func(txn *txn.Txn) error {
		if _, _, err := txn.Get([]byte("a")); err != nil {
			return err
		}
		return txn.Set([]byte("b"), []byte("x"))
	})
}

func mergeScan(database *db.Db, out io.Writer) error {
	err := database.Update(func(txn *txn.Txn) error {
		return txn.Set([]byte("m"), []byte("committed"))
	})
	if err != nil {
		return err
	}

	pending, err := database.BeginCommand()
	if err != nil {
		return err
	}
	defer pending.Discard()
	for _, key := range []string{"c", "m"} {
		if err := pending.Set([]byte(key), []byte("pending")); err != nil {
			return err
		}
	}

	it := pending.Range([]byte("a"), []byte("z"))
	defer it.Close()
	for ; it.Valid(); it.Next() {
		fmt.Fprintf(out, "scan %s=%s\n", it.Key(), it.Value().Slice())
	}
	return it.Err()
}

func removeThenSet(database *db.Db, _ io.Writer) error {
	return database.Update(func(txn *txn.Txn) error {
		if err := txn.Remove([]byte("a")); err != nil {
			return err
		}
		return txn.Set([]byte("a"), []byte("3"))
	})
}
