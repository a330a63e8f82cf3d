// Command asgn submits and inspects prompts against a running assigner
// daemon's store, and controls the daemon's lifecycle.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
