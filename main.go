package main

import (
	"os"

	"github.com/cmu-db/peloton-sub010/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
