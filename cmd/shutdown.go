package main

import (
	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

// newShutdownCmd stops workers without any pub/sub channel to signal a
// live process: it deregisters worker entries from the registry instead,
// and a running worker's loop exits at its next heartbeat check once it
// finds itself deregistered. A deregistered worker's owner locks immediately look stale to the
// scheduler's acquire check, so in-flight work is picked up by whichever
// worker is still actually running. --force additionally clears
// the owner locks directly rather than waiting for the next contending
// task to notice.
func newShutdownCmd() *cobra.Command {
	var force, all bool
	cmd := &cobra.Command{
		Use:   "shutdown [worker-id...]",
		Short: "Stop workers (deregister them); optionally every worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ids := args
			if all {
				members, err := s.hub.SMembers(ctx, hub.WorkerRegistryKey)
				if err != nil {
					return err
				}
				ids = members
			}
			for _, id := range ids {
				if force {
					job, err := s.hub.Get(ctx, hub.WorkerJobKey(id))
					if err == nil && job != "" {
						if err := s.hub.Del(ctx, hub.OperationOwnerKey(job)); err != nil {
							return err
						}
					}
				}
				if err := s.hub.SRem(ctx, hub.WorkerRegistryKey, id); err != nil {
					return err
				}
				if err := s.hub.Del(ctx, hub.WorkerHeartbeatKey(id), hub.WorkerJobKey(id)); err != nil {
					return err
				}
			}
			s.log.Infof("shutdown: deregistered %d worker(s)", len(ids))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also release the in-flight operation lock immediately")
	cmd.Flags().BoolVar(&all, "all", false, "target every registered worker instead of the named ones")
	return cmd
}
