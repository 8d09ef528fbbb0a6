// ABOUTME: Entry point for the voxrelay admin CLI
// ABOUTME: Inspects conversations, prompts and queues in a relay database

package main

import (
	"os"

	"github.com/voxrelay/voxrelay/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
