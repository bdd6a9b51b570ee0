// ABOUTME: Entry point for the chorus multi-agent conversation client
// ABOUTME: Delegates to the cobra command tree in internal/cli

package main

import (
	"fmt"
	"os"

	"github.com/2389/coven-chorus/internal/cli"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
