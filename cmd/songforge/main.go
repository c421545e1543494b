// Package main is the entry point for the songforge application.
package main

import (
	"os"

	"github.com/songforge/songforge/cmd/songforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
