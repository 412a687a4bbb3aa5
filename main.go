// Command koine runs an HTTP gateway in front of the Claude CLI.
package main

import (
	"fmt"
	"os"

	"github.com/zhubert/koine/cmd"
)

// Set via -ldflags "-X main.version=..." at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "koine: %v\n", err)
		os.Exit(1)
	}
}
