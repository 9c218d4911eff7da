package main

import (
	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [queues...]",
		Short: "Drop queues and owner locks; data is left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			queues := args
			if len(queues) == 0 {
				queues = s.cfg.Queues
			}
			for _, q := range queues {
				if err := s.hub.Del(ctx,
					hub.QueueListKey(q),
					hub.QueueProcessingKey(q),
					hub.QueueDeadlinesKey(q),
				); err != nil {
					return err
				}
			}

			hashes, err := s.hub.ZRangeByScoreLex(ctx, hub.HashIndexKey, "-", "+")
			if err != nil {
				return err
			}
			for _, h := range hashes {
				if err := s.hub.Del(ctx, hub.OperationOwnerKey(h)); err != nil {
					return err
				}
			}
			s.log.Infof("cleaned %d queue(s), released locks on %d hash(es)", len(queues), len(hashes))
			return nil
		},
	}
}
