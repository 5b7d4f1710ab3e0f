// ============================================================================
// cardbusd - Main Entry Point
// ============================================================================
//
// File: cmd/cardbusd/main.go
// Purpose: Application entry point and CLI initialization.
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/chuliyu/cardbus/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
