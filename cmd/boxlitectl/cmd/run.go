package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/boxlite/pkg/config"
	"github.com/strand-protocol/boxlite/pkg/runtime"
	"github.com/strand-protocol/boxlite/pkg/sandbox"
)

var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "Build and run a box graph until every box exits or SIGINT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := config.Load(args[0])
		if err != nil {
			return err
		}

		rt := runtime.New(sandbox.NewLocalProcessSandbox())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "boxlitectl: interrupted, stopping boxes")
			rt.StopAll(context.Background())
			cancel()
		}()

		for _, spec := range g.Boxes {
			opts := runtime.CreateOptions{
				Resources: sandbox.Resources{CPUShares: spec.CPUShares, MemoryMB: spec.MemoryMB},
			}
			if spec.DeliverTimeoutSeconds > 0 {
				opts.DeliverTimeout = time.Duration(spec.DeliverTimeoutSeconds) * time.Second
			}
			b, err := rt.CreateBox(ctx, spec.Name, opts)
			if err != nil {
				return fmt.Errorf("boxlitectl: create box %q: %w", spec.Name, err)
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
				return fmt.Errorf("boxlitectl: run box %q: %w", spec.Name, err)
			}
		}

		results := rt.WaitAll(ctx)
		exitCode := 0
		for _, spec := range g.Boxes {
			r := results[spec.Name]
			if !r.Exited {
				fmt.Printf("%s: did not exit\n", spec.Name)
				continue
			}
			if r.ExitCode != 0 {
				exitCode = r.ExitCode
			}
			fmt.Printf("%s: exited %d\n", spec.Name, r.ExitCode)
		}
		if exitCode != 0 {
			os.Exit(exitCode)
		}
		return nil
	},
}

func init() { rootCmd.AddCommand(runCmd) }
