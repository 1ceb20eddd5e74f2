package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmu-db/peloton-sub010/checkpoint"
	"github.com/cmu-db/peloton-sub010/repl"
)

func init() {
	pelotonCmd.AddCommand(
		&cobra.Command{
			Use:   "checkpoints",
			Short: "List the finished checkpoints without starting the database",
			RunE: func(cmd *cobra.Command, args []string) error {
				recs, err := checkpoint.ListHistory(params.CheckpointDir)
				if err != nil {
					return fmt.Errorf("peloton: %s", err)
				}
				repl.WriteHistory(os.Stdout, recs)
				return nil
			},
		})
}
