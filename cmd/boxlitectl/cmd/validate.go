package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/boxlite/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph.yaml>",
	Short: "Parse and validate a box-graph config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := config.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ok: %d box(es)\n", len(g.Boxes))
		return nil
	},
}

func init() { rootCmd.AddCommand(validateCmd) }
