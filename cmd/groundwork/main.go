// Package main provides the entry point for the groundwork CLI.
package main

import (
	"os"

	"github.com/groundwork-rag/groundwork/cmd/groundwork/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
