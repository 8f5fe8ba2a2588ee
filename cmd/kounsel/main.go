// Package main is the entry point for the kounsel CLI application.
package main

import (
	"fmt"
	"os"

	"kounsel/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
