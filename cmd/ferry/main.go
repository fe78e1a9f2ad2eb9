// Command ferry runs and manages a ferry job engine.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
