// Package main is the entry point for the rec-agent recording client.
package main

import (
	"fmt"
	"os"

	"github.com/otus-rec/rec-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
