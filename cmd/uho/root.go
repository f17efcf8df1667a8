package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "uho",
	Short: "Uho is a declarative, IDL-driven event indexer for Solana programs",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to uho.yaml (defaults + env overrides apply when omitted)")
}

// Execute runs the cobra command tree; main.go's sole job is to call
// this. A returned error is printed to stderr and turned into exit code
// 1 here, matching the teacher's single-responsibility main function.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
