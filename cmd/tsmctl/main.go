// Command tsmctl is a thin CLI over tsm/session: run, inspect, tail logs
// for, and cancel applications against the local scheduler, the only
// backend it wires up.
package main

import (
	"fmt"
	"os"

	"github.com/inconshreveable/log15"
)

func main() {
	logger := log15.New()
	root := NewRootCmd(logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
