package main

import (
	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "reset <hash>...",
		Short: "Invalidate an operation or artefact, deleting its output data.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			targets, err := s.resolveArgs(ctx, args)
			if err != nil {
				return err
			}
			for _, t := range targets {
				if err := s.ctx.Reset(ctx, t, recursive); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", true, "also reset every descendant operation")
	return cmd
}
