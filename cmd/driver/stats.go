package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, _, err := openDb()
			if err != nil {
				return err
			}
			defer database.Stop()

			stats, err := database.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keys=%d versions=%d records=%d visible=v%d\n",
				stats.Keys, stats.Versions, stats.BackendRecords, stats.VisibleVersion)
			return nil
		},
	}
}
