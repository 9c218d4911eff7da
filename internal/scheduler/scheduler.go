// Package scheduler implements the distributed Task/Execute handler:
// acquiring an operation's lock (stealing it from a dead worker when
// necessary), dispatching it through the runner, recursing into sub-DAGs,
// and propagating completion to dependents via the hub's atomic counters.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/backoff"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/dagbuild"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/logger"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/queue"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/runner"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/worker"
)

// LockContention is how long Task sleeps before re-enqueuing a job whose
// lock it could not acquire. Lock contention is the only retried
// condition; every other outcome is terminal within one execution.
const LockContention = 500 * time.Millisecond

// Disposition reports how Task resolved a job, for callers (worker loop,
// `--burst` mode, tests) that want to know without re-reading the hub.
type Disposition string

const (
	Ran        Disposition = "ran"
	Cached     Disposition = "cached"
	Unmet      Disposition = "unmet_dependencies"
	Delayed    Disposition = "delayed"
	Subdag     Disposition = "subdag_recursed"
	Terminated Disposition = "terminated"
)

// Scheduler wires together the stores, runner, queue, and worker registry
// that the Task state machine touches.
type Scheduler struct {
	hub     hub.Client
	ops     *op.Store
	artef   *artefact.Store
	dags    *dagbuild.Builder
	run     *runner.Runner
	queue   *queue.Queue
	workers *worker.Registry

	workerID       string
	log            logger.Logger
	lockTTL        time.Duration
	defaultTimeout time.Duration
}

// New builds a Scheduler. workerID should come from worker.NewID and be
// registered with workers before Task is ever called against it.
func New(
	client hub.Client,
	ops *op.Store,
	artef *artefact.Store,
	dags *dagbuild.Builder,
	run *runner.Runner,
	q *queue.Queue,
	workers *worker.Registry,
	workerID string,
	log logger.Logger,
	lockTTL, defaultTimeout time.Duration,
) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		hub: client, ops: ops, artef: artef, dags: dags, run: run,
		queue: q, workers: workers, workerID: workerID, log: log,
		lockTTL: lockTTL, defaultTimeout: defaultTimeout,
	}
}

// Execute builds the DAG(s) needed to produce each target and enqueues
// whatever is immediately ready (no unmet dependencies, i.e. the root
// sentinel's children within the closure).
func (s *Scheduler) Execute(ctx context.Context, queueName string, targets ...string) error {
	for _, target := range targets {
		inst, err := s.dags.Build(ctx, target)
		if err != nil {
			return fmt.Errorf("scheduler: building dag for %s: %w", target, err)
		}
		ready, err := s.dags.RootReady(ctx, inst)
		if err != nil {
			return err
		}
		for _, opHash := range ready {
			if err := s.enqueue(ctx, queueName, inst.Key, opHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) enqueue(ctx context.Context, queueName, dagKey, opHash string) error {
	return s.queue.Enqueue(ctx, queueName, queue.Job{DAGKey: dagKey, OpHash: opHash})
}

// Task is the five-step handler for a single dequeued job: acquire,
// dispatch, sub-DAG recursion, propagate, release.
func (s *Scheduler) Task(ctx context.Context, queueName string, job queue.Job) (Disposition, error) {
	acquired, err := s.acquire(ctx, job.OpHash)
	if err != nil {
		return "", err
	}
	if !acquired {
		// Lock contention: re-enqueue at the back of the queue after a
		// short in-task sleep.
		time.Sleep(LockContention)
		if err := s.queue.Requeue(ctx, queueName, job); err != nil {
			return "", err
		}
		return Delayed, nil
	}
	defer func() {
		_ = s.ops.Release(ctx, job.OpHash)
		_ = s.workers.ClearCurrentJob(ctx, s.workerID)
	}()
	_ = s.workers.SetCurrentJob(ctx, s.workerID, job.OpHash)

	disposition, err := s.dispatch(ctx, queueName, job)
	if err != nil {
		return "", err
	}
	if err := s.queue.Ack(ctx, queueName, job.ID); err != nil {
		return "", err
	}
	return disposition, nil
}

// acquire takes the per-operation owner lock: try the plain SETNX; on
// contention, decide whether the current holder is a dead worker (steal),
// a live one working on this very op (back off and retry later), or a
// live one busy with something else (its lock is stale: steal).
func (s *Scheduler) acquire(ctx context.Context, opHash string) (bool, error) {
	ok, err := s.ops.TryAcquire(ctx, opHash, s.workerID, s.lockTTL)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	owner, err := s.ops.Owner(ctx, opHash)
	if err != nil {
		return false, err
	}
	if owner == "" {
		// Lock expired between TryAcquire's failure and this read; try once more.
		return s.ops.TryAcquire(ctx, opHash, s.workerID, s.lockTTL)
	}
	alive, err := s.workers.Alive(ctx, owner)
	if err != nil {
		return false, err
	}
	if alive {
		current, err := s.workers.CurrentJob(ctx, owner)
		if err != nil {
			return false, err
		}
		if current == opHash {
			// Owner is alive and genuinely working this op: back off and retry.
			return false, nil
		}
		s.log.Warnf("stealing lock on %s from %s, busy with a different job", opHash, owner)
	} else {
		s.log.Warnf("stealing lock on %s from dead worker %s", opHash, owner)
	}
	if err := s.ops.Steal(ctx, opHash, s.workerID); err != nil {
		return false, err
	}
	return true, nil
}

// dispatch runs the evaluate/cached/dependency checks, executes the
// funsie under the operation's timeout, and hands sub-DAG results to
// recurseSubdag.
func (s *Scheduler) dispatch(ctx context.Context, queueName string, job queue.Job) (Disposition, error) {
	o, err := s.ops.Get(ctx, job.OpHash)
	if err != nil {
		return "", err
	}

	if !o.Options.Evaluate {
		// evaluate=false: the caller only wanted the DAG built, not run.
		return Unmet, nil
	}

	cached, err := s.ops.Cached(ctx, job.OpHash)
	if err != nil {
		return "", err
	}
	if cached {
		return s.propagate(ctx, queueName, job, Cached)
	}

	unmet, err := s.ops.UnmetDependencies(ctx, o)
	if err != nil {
		return "", err
	}
	if unmet {
		return Unmet, nil
	}

	f, err := s.ops.FunsieByHash(ctx, o.Funsie)
	if err != nil {
		return "", err
	}

	timeout := o.Options.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := s.run.Run(runCtx, o, f)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			e := ferrors.FromOp(ferrors.JobTimedOut, o.Hash, "operation exceeded its timeout")
			for _, outHash := range o.Out {
				if mErr := s.artef.MarkError(ctx, outHash, e); mErr != nil {
					return "", mErr
				}
			}
			return s.propagate(ctx, queueName, job, Ran)
		}
		return "", err
	}

	switch result.Status {
	case runner.SubdagReady:
		if err := s.recurseSubdag(ctx, queueName, job, result); err != nil {
			return "", err
		}
		return Subdag, nil
	default:
		return s.propagate(ctx, queueName, job, Ran)
	}
}

// recurseSubdag resolves every linked output to its producing operation
// and builds/executes one DAG instance for all of them under the
// "<dag_key>/<op_hash>" sub-path, so the sub-DAG's operations get
// scheduled and its terminators release the originating operation's
// dependents when they complete.
func (s *Scheduler) recurseSubdag(ctx context.Context, queueName string, job queue.Job, result runner.Result) error {
	var targets []string
	for _, target := range result.LinkedTargets {
		a, err := s.artef.Get(ctx, target)
		if err != nil {
			return err
		}
		if a.Parent == "" || a.Parent == hub.RootSentinel {
			// The sub-DAG produced a root constant directly: nothing to run
			// for this output.
			continue
		}
		if err := s.ops.AddSubdagParent(ctx, a.Parent, job.OpHash); err != nil {
			return err
		}
		targets = append(targets, target)
	}

	subKey := dagbuild.SubPath(job.DAGKey, job.OpHash)
	inst, err := s.dags.BuildSub(ctx, targets, subKey)
	if err != nil {
		return err
	}
	if len(inst.Operations) == 0 {
		// Every linked output was already a settled constant: the sub-DAG
		// is trivially complete, so release the origin's dependents now.
		return s.notifyChildren(ctx, queueName, job.DAGKey, job.OpHash)
	}
	ready, err := s.dags.RootReady(ctx, inst)
	if err != nil {
		return err
	}
	for _, opHash := range ready {
		if err := s.enqueue(ctx, queueName, subKey, opHash); err != nil {
			return err
		}
	}
	return nil
}

// propagate advances the DAG: for every child of the completed operation
// within the enclosing DAG instance, atomically decrement its
// remaining-parents counter and enqueue it once the counter reaches zero.
// When the completed operation is one of its DAG's declared terminators
// (i.e. it is itself the tail of a sub-DAG), its dependents in the *parent*
// DAG are also notified, per the sub-DAG terminator rule.
func (s *Scheduler) propagate(ctx context.Context, queueName string, job queue.Job, disposition Disposition) (Disposition, error) {
	if err := s.notifyChildren(ctx, queueName, job.DAGKey, job.OpHash); err != nil {
		return "", err
	}

	if dagbuild.IsSubPath(job.DAGKey) {
		isTerm, err := s.dags.IsTerminator(ctx, job.DAGKey, job.OpHash)
		if err != nil {
			return "", err
		}
		if isTerm {
			parentKey, originOp := splitSubPath(job.DAGKey)
			if err := s.notifyChildren(ctx, queueName, parentKey, originOp); err != nil {
				return "", err
			}
			return Terminated, nil
		}
	}
	return disposition, nil
}

func (s *Scheduler) notifyChildren(ctx context.Context, queueName, dagKey, opHash string) error {
	children, err := s.ops.Children(ctx, opHash)
	if err != nil {
		return err
	}
	for _, child := range children {
		inDAG, err := s.hub.SIsMember(ctx, hub.DAGOperationsKey(dagKey), child)
		if err != nil {
			return err
		}
		if !inDAG {
			continue
		}
		remaining, err := s.hub.HIncrBy(ctx, hub.DAGStatusKey(dagKey), child, -1)
		if err != nil {
			return err
		}
		if remaining <= 0 {
			if err := s.enqueue(ctx, queueName, dagKey, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitSubPath reverses dagbuild.SubPath, recovering the enclosing DAG key
// and the sub-DAG's originating operation hash.
func splitSubPath(key string) (parentKey, originOp string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// Drain pulls and runs jobs from queueName until it's empty, the mode
// `worker --burst` uses.
func (s *Scheduler) Drain(ctx context.Context, queueName string, visibility time.Duration) (int, error) {
	n := 0
	for {
		job, err := s.queue.Dequeue(ctx, queueName, s.workerID, visibility)
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		if _, err := s.Task(ctx, queueName, *job); err != nil {
			return n, err
		}
		n++
	}
}

// Run pulls and runs jobs from queueName until ctx is canceled, the worker
// process's steady-state loop. It heartbeats the worker registry and sweeps
// expired jobs from the queue between pulls, and returns once the worker
// is no longer in the registry (e.g. after `shutdown`).
func (s *Scheduler) Run(ctx context.Context, queueName string, visibility time.Duration) error {
	idle := backoff.NewWaiter(backoff.Jittered{
		Policy: backoff.Exponential{Initial: 50 * time.Millisecond, Cap: time.Second},
	})
	heartbeatEvery := worker.HeartbeatInterval
	lastHeartbeat := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if time.Since(lastHeartbeat) >= heartbeatEvery {
			registered, err := s.hub.SIsMember(ctx, hub.WorkerRegistryKey, s.workerID)
			if err != nil {
				return err
			}
			if !registered {
				s.log.Infof("worker %s deregistered, stopping", s.workerID)
				return nil
			}
			if err := s.workers.Heartbeat(ctx, s.workerID); err != nil {
				return err
			}
			if _, err := s.queue.SweepExpired(ctx, queueName); err != nil {
				return err
			}
			lastHeartbeat = time.Now()
		}
		job, err := s.queue.Dequeue(ctx, queueName, s.workerID, visibility)
		if err != nil {
			return err
		}
		if job == nil {
			if err := idle.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
			continue
		}
		idle.Reset()
		if _, err := s.Task(ctx, queueName, *job); err != nil {
			s.log.Errorf("task %s failed: %v", job.OpHash, err)
		}
	}
}
