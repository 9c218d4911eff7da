package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newWaitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <hash>...",
		Short: "Block until all targets reach status > 0.",
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
				if err := s.ctx.WaitFor(ctx, t, timeout); err != nil {
					return &notFoundErr{err}
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait before giving up")
	return cmd
}
