// Package main is the entry point for the coopdesk CLI.
package main

import (
	"os"

	"github.com/CoopDesk/CoopDesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
