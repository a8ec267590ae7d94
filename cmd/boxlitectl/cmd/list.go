package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/boxlite/pkg/config"
	"github.com/strand-protocol/boxlite/pkg/runtime"
	"github.com/strand-protocol/boxlite/pkg/sandbox"
)

// boxRow is one line of `boxlitectl list` output. Status is populated
// from the live registry snapshot below, not from the graph file alone
// — a box spec on disk says nothing about whether its guest actually
// came up.
type boxRow struct {
	Name            string
	Task            string
	MessageHandlers int
	EventHandlers   int
	Status          string
}

var listCmd = &cobra.Command{
	Use:   "list <graph.yaml>",
	Short: "Run a box graph briefly and list each box's resulting status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := config.Load(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rt := runtime.New(sandbox.NewLocalProcessSandbox())
		defer rt.Shutdown(context.Background())

		rows := make([]boxRow, len(g.Boxes))
		for i, spec := range g.Boxes {
			rows[i] = boxRow{
				Name:            spec.Name,
				Task:            spec.Task,
				MessageHandlers: len(spec.OnMessage),
				EventHandlers:   len(spec.OnEvent),
			}

			opts := runtime.CreateOptions{
				Resources: sandbox.Resources{CPUShares: spec.CPUShares, MemoryMB: spec.MemoryMB},
			}
			if spec.DeliverTimeoutSeconds > 0 {
				opts.DeliverTimeout = time.Duration(spec.DeliverTimeoutSeconds) * time.Second
			}
			b, err := rt.CreateBox(ctx, spec.Name, opts)
			if err != nil {
				rows[i].Status = "error"
				continue
			}
			if spec.Task != "" {
				b.Task(spec.Task)
			}
			for _, name := range spec.OnMessage {
				b.OnMessage(name)
			}
			for event, name := range spec.OnEvent {
				b.OnEvent(event, name)
			}

			if err := b.Run(ctx, spec.Env); err != nil {
				rows[i].Status = "stopped"
				continue
			}
			if b.Running() {
				rows[i].Status = "running"
			} else {
				rows[i].Status = "stopped"
			}
		}

		fmt.Print(formatter.Format(rows))
		return nil
	},
}

func init() { rootCmd.AddCommand(listCmd) }
