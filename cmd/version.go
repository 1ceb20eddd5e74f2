package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmu-db/peloton-sub010/sql"
)

func init() {
	pelotonCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Peloton",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(sql.Version())
			},
		})
}
