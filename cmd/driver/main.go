package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tiny_mvcc/pkg/config"
	"tiny_mvcc/pkg/db"
	"tiny_mvcc/pkg/logutil"
)

var configPath string

func openDb() (*db.Db, *zap.Logger, error) {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, nil, err
		}
	}
	logger, err := logutil.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return database, logger, nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driver",
		Short: "Run transactions against a tiny_mvcc database",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a toml config file")

	rootCmd.AddCommand(
		newScenariosCommand(),
		newStatsCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
