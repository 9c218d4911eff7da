package main

import (
	"github.com/spf13/cobra"
)

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <hash>...",
		Short: "Enqueue execution of the given target artefacts.",
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
			return s.ctx.Execute(ctx, targets...)
		},
	}
}
