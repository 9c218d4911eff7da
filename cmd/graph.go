package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/dotgraph"
)

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <hash>...",
		Short: "Emit a DOT representation of the operations reachable from the given hashes.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			roots, err := s.resolveArgs(ctx, args)
			if err != nil {
				return err
			}
			return dotgraph.Render(ctx, os.Stdout, s.ctx.Ops, roots)
		},
	}
}
