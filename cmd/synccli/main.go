// Command synccli is the operator entrypoint for the sync engine: it runs
// one SyncJob to completion, requests cancellation of a running one,
// reports status, and inspects persisted cursors. Adapted from
// eve.evalgo.org's main.go: the same one-line cobra.Execute()+exit-code
// shape, retargeted from an HTTP-server command to a batch-run CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
