// Package main is the entry point for the mediad daemon.
package main

import (
	"os"

	"github.com/mediabuilder/mediad/cmd/mediad/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
