package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/runner"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/scheduler"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/worker"
)

// visibilityTimeout is how long a dequeued-but-unacked job stays
// invisible to other workers before internal/queue's sweep puts it back.
const visibilityTimeout = 2 * time.Minute

func newWorkerCmd() *cobra.Command {
	var burst bool
	cmd := &cobra.Command{
		Use:   "worker [queues...]",
		Short: "Attach a worker to one or more named queues.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := newSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			queues := args
			if len(queues) == 0 {
				queues = s.cfg.Queues
			}

			run := runner.New(s.ctx.Artef, s.ctx.Storage, nil)
			workers := worker.NewRegistry(s.hub)
			workerID := worker.NewID()
			if err := workers.Register(ctx, workerID); err != nil {
				return err
			}
			defer func() { _ = workers.Deregister(context.Background(), workerID) }()

			sched := scheduler.New(
				s.hub, s.ctx.Ops, s.ctx.Artef, s.ctx.Dags, run, s.ctx.Queue,
				workers, workerID, s.log, s.cfg.LockTTL, s.cfg.DefaultTimeout,
			)

			s.log.Infof("worker %s attached to queues %v (burst=%v)", workerID, queues, burst)
			if burst {
				for _, q := range queues {
					n, err := sched.Drain(ctx, q, visibilityTimeout)
					if err != nil {
						return err
					}
					s.log.Infof("queue %s: drained %d job(s)", q, n)
				}
				return nil
			}

			// Each queue gets its own goroutine so `worker a b` services both
			// concurrently instead of blocking on the first forever.
			errs := make(chan error, len(queues))
			for _, q := range queues {
				q := q
				go func() { errs <- sched.Run(ctx, q, visibilityTimeout) }()
			}
			for range queues {
				if err := <-errs; err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&burst, "burst", false, "process whatever is queued, then exit instead of waiting for more")
	return cmd
}

// signalContext returns a context canceled on SIGINT/SIGTERM so a
// long-running command stops cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
