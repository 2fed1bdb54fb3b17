package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "springqld",
	Short: "Run an autonomous streaming SQL pipeline",
	Long: `springqld drives the embeddable streaming SQL engine from the
command line: it opens one pipeline, installs a DDL script, and lets
the engine run until interrupted.`,
}

// Execute runs the root command. Called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a TOML config file (defaults built in)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")
}
