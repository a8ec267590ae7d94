// Package cmd implements boxlitectl's cobra command tree: persistent
// flags shared across subcommands, plus validate/run/list.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/boxlite/pkg/output"
)

var (
	outputFormat string
	formatter    output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "boxlitectl",
	Short: "boxlitectl builds and runs BoxLite box graphs",
	Long: `boxlitectl is the operator-facing CLI for BoxLite, a multi-box
orchestration runtime where a host broker launches sandboxed guest
processes that exchange request/response messages and fan-out events
over a line-delimited JSON protocol on stdio.

It validates box-graph YAML files, runs a graph against the local
process sandbox until every box exits, and lists the boxes a graph
defines.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		formatter = output.New(outputFormat)
		return nil
	},
}

// Execute runs the root command, exiting the process with a non-zero
// status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table|json|yaml")
}
