// Command funsies is the engine's CLI: worker, execute, wait, cat, reset,
// clean, shutdown, graph, version. It is a thin cobra tree over
// internal/client, internal/scheduler, and internal/worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/build"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           build.AppName,
		Short:         "Distributed, content-addressed workflow engine.",
		Long:          "funsies [options] <worker|execute|wait|cat|reset|clean|shutdown|graph|version> [args]",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (default: none, env vars only)")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newExecuteCmd())
	cmd.AddCommand(newWaitCmd())
	cmd.AddCommand(newCatCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newShutdownCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
