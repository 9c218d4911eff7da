package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/dagbuild"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/options"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/queue"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/runner"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/scheduler"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/worker"
)

type harness struct {
	hub     hub.Client
	artef   *artefact.Store
	ops     *op.Store
	dags    *dagbuild.Builder
	run     *runner.Runner
	q       *queue.Queue
	workers *worker.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := hub.NewFake()
	idx, err := hashid.NewIndex(h, 64)
	require.NoError(t, err)
	eng := storage.NewHubEngine(h)
	artef := artefact.NewStore(h, idx, eng)
	ops := op.NewStore(h, idx, artef)
	return &harness{
		hub:     h,
		artef:   artef,
		ops:     ops,
		dags:    dagbuild.New(h, artef, ops),
		run:     runner.New(artef, eng, nil),
		q:       queue.New(h),
		workers: worker.NewRegistry(h),
	}
}

func newScheduler(hs *harness, workerID string) *scheduler.Scheduler {
	return scheduler.New(hs.hub, hs.ops, hs.artef, hs.dags, hs.run, hs.q, hs.workers, workerID, nil, time.Minute, 0)
}

func upper(inputs []codec.Value) ([]codec.Value, error) {
	s := string(inputs[0].Bytes)
	out := make([]byte, len(s))
	for i := range s {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return []codec.Value{codec.Bytes(out)}, nil
}

func upperShape() ([]byte, error) { return nil, nil }

func makeUpperOp(t *testing.T, hs *harness, value string) (*artefact.Artefact, *op.Operation) {
	t.Helper()
	require.NoError(t, funsie.Register("scheduler_test.upper."+value, upper, upperShape))
	x, err := hs.artef.PutConstant(context.Background(), codec.Blob, codec.Bytes([]byte(value)))
	require.NoError(t, err)
	f, err := funsie.New(funsie.Func, "scheduler_test.upper."+value,
		map[string]codec.Kind{"x": codec.Blob},
		map[string]codec.Kind{"result": codec.Blob},
		false, nil)
	require.NoError(t, err)
	o, err := hs.ops.Make(context.Background(), f, map[string]string{"x": x.Hash}, options.Default())
	require.NoError(t, err)
	out, err := hs.artef.Get(context.Background(), o.Out["result"])
	require.NoError(t, err)
	return out, o
}

func TestTaskRunsAnOperationAndPropagates(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	out, o := makeUpperOp(t, hs, "run")

	inst, err := hs.dags.Build(ctx, out.Hash)
	require.NoError(t, err)

	sched := newScheduler(hs, worker.NewID())
	disp, err := sched.Task(ctx, "default", queue.Job{DAGKey: inst.Key, OpHash: o.Hash})
	require.NoError(t, err)
	require.Equal(t, scheduler.Ran, disp)

	got, err := hs.artef.Get(ctx, out.Hash)
	require.NoError(t, err)
	require.Equal(t, artefact.Done, got.Status)
	require.Equal(t, []byte("RUN"), mustGetBytes(t, hs, out.Hash))
}

func mustGetBytes(t *testing.T, hs *harness, h string) []byte {
	t.Helper()
	eng := storage.NewHubEngine(hs.hub)
	b, err := eng.Get(context.Background(), h)
	require.NoError(t, err)
	return b
}

func TestTaskStealsLockFromDeadWorker(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	_, o := makeUpperOp(t, hs, "steal")

	ok, err := hs.ops.TryAcquire(ctx, o.Hash, "dead-worker", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	sched := newScheduler(hs, worker.NewID())
	inst, err := hs.dags.Build(ctx, o.Hash)
	require.NoError(t, err)
	disp, err := sched.Task(ctx, "default", queue.Job{DAGKey: inst.Key, OpHash: o.Hash})
	require.NoError(t, err)
	require.NotEqual(t, scheduler.Delayed, disp)
}

func TestTaskBacksOffWhenOwnerAliveOnSameJob(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	_, o := makeUpperOp(t, hs, "contend")

	otherID := "worker-busy"
	require.NoError(t, hs.workers.Register(ctx, otherID))
	require.NoError(t, hs.workers.SetCurrentJob(ctx, otherID, o.Hash))
	ok, err := hs.ops.TryAcquire(ctx, o.Hash, otherID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	sched := newScheduler(hs, worker.NewID())
	require.NoError(t, hs.q.Enqueue(ctx, "default", queue.Job{DAGKey: "k", OpHash: o.Hash}))
	job, err := hs.q.Dequeue(ctx, "default", "me", time.Minute)
	require.NoError(t, err)

	disp, err := sched.Task(ctx, "default", *job)
	require.NoError(t, err)
	require.Equal(t, scheduler.Delayed, disp)
}

func TestTaskStealsFromLiveOwnerWorkingDifferentJob(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	_, o := makeUpperOp(t, hs, "steal2")

	otherID := "worker-busy2"
	require.NoError(t, hs.workers.Register(ctx, otherID))
	require.NoError(t, hs.workers.SetCurrentJob(ctx, otherID, "some-other-op"))
	ok, err := hs.ops.TryAcquire(ctx, o.Hash, otherID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	sched := newScheduler(hs, worker.NewID())
	inst, err := hs.dags.Build(ctx, o.Hash)
	require.NoError(t, err)
	disp, err := sched.Task(ctx, "default", queue.Job{DAGKey: inst.Key, OpHash: o.Hash})
	require.NoError(t, err)
	require.NotEqual(t, scheduler.Delayed, disp)
}

func TestDispatchReportsUnmetDependencies(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	require.NoError(t, funsie.Register("scheduler_test.unmet", upper, upperShape))

	// x is a declared variable of some other (unrun) op, so it starts
	// no_data: never settled.
	x, err := hs.artef.DeclareVariable(ctx, "upstream-op", "out1", codec.Blob)
	require.NoError(t, err)
	f, err := funsie.New(funsie.Func, "scheduler_test.unmet",
		map[string]codec.Kind{"x": codec.Blob},
		map[string]codec.Kind{"result": codec.Blob},
		false, nil)
	require.NoError(t, err)
	o, err := hs.ops.Make(ctx, f, map[string]string{"x": x.Hash}, options.Default())
	require.NoError(t, err)

	sched := newScheduler(hs, worker.NewID())
	disp, err := sched.Task(ctx, "default", queue.Job{DAGKey: "k", OpHash: o.Hash})
	require.NoError(t, err)
	require.Equal(t, scheduler.Unmet, disp)
}

func TestExecuteEnqueuesRootReadyOps(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	out, _ := makeUpperOp(t, hs, "exec")

	sched := newScheduler(hs, worker.NewID())
	require.NoError(t, sched.Execute(ctx, "default", out.Hash))

	n, err := hs.q.Len(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDrainRunsAChainInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)

	require.NoError(t, funsie.Register("scheduler_test.chain.upper", upper, upperShape))
	require.NoError(t, funsie.Register("scheduler_test.chain.exclaim", func(in []codec.Value) ([]codec.Value, error) {
		return []codec.Value{codec.Bytes(append(in[0].Bytes, '!'))}, nil
	}, upperShape))

	x, err := hs.artef.PutConstant(ctx, codec.Blob, codec.Bytes([]byte("hi")))
	require.NoError(t, err)

	f1, err := funsie.New(funsie.Func, "scheduler_test.chain.upper",
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"result": codec.Blob}, false, nil)
	require.NoError(t, err)
	o1, err := hs.ops.Make(ctx, f1, map[string]string{"x": x.Hash}, options.Default())
	require.NoError(t, err)

	f2, err := funsie.New(funsie.Func, "scheduler_test.chain.exclaim",
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"result": codec.Blob}, false, nil)
	require.NoError(t, err)
	o2, err := hs.ops.Make(ctx, f2, map[string]string{"x": o1.Out["result"]}, options.Default())
	require.NoError(t, err)

	sched := newScheduler(hs, worker.NewID())
	require.NoError(t, sched.Execute(ctx, "default", o2.Out["result"]))

	n, err := sched.Drain(ctx, "default", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, n, "both ops run, the second only after propagation")

	require.Equal(t, []byte("HI!"), mustGetBytes(t, hs, o2.Out["result"]))
}

func TestDrainUsesCacheOnSecondExecution(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	out, _ := makeUpperOp(t, hs, "memo")

	sched := newScheduler(hs, worker.NewID())
	require.NoError(t, sched.Execute(ctx, "default", out.Hash))
	_, err := sched.Drain(ctx, "default", time.Minute)
	require.NoError(t, err)

	require.NoError(t, sched.Execute(ctx, "default", out.Hash))
	job, err := hs.q.Dequeue(ctx, "default", "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	disp, err := sched.Task(ctx, "default", *job)
	require.NoError(t, err)
	require.Equal(t, scheduler.Cached, disp)
}

func TestSubdagExpansionRunsInteriorOpsAndReleasesDependents(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)

	// Interior op: uppercase a constant. The sub-DAG generator links its
	// declared output to that op's output artefact.
	require.NoError(t, funsie.Register("scheduler_test.subdag.inner", upper, upperShape))
	seed, err := hs.artef.PutConstant(ctx, codec.Blob, codec.Bytes([]byte("inner")))
	require.NoError(t, err)
	innerF, err := funsie.New(funsie.Func, "scheduler_test.subdag.inner",
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"result": codec.Blob}, false, nil)
	require.NoError(t, err)
	innerOp, err := hs.ops.Make(ctx, innerF, map[string]string{"x": seed.Hash}, options.Default())
	require.NoError(t, err)

	require.NoError(t, funsie.RegisterSubdag("scheduler_test.subdag.gen", func(in []codec.Value) (map[string]string, error) {
		return map[string]string{"result": innerOp.Out["result"]}, nil
	}))
	genF, err := funsie.New(funsie.Subdag, "scheduler_test.subdag.gen",
		map[string]codec.Kind{}, map[string]codec.Kind{"result": codec.Blob}, false, nil)
	require.NoError(t, err)
	genOp, err := hs.ops.Make(ctx, genF, map[string]string{}, options.Default())
	require.NoError(t, err)

	// Consumer of the sub-DAG's linked output.
	require.NoError(t, funsie.Register("scheduler_test.subdag.exclaim", func(in []codec.Value) ([]codec.Value, error) {
		return []codec.Value{codec.Bytes(append(in[0].Bytes, '!'))}, nil
	}, upperShape))
	consF, err := funsie.New(funsie.Func, "scheduler_test.subdag.exclaim",
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"result": codec.Blob}, false, nil)
	require.NoError(t, err)
	consOp, err := hs.ops.Make(ctx, consF, map[string]string{"x": genOp.Out["result"]}, options.Default())
	require.NoError(t, err)

	sched := newScheduler(hs, worker.NewID())
	require.NoError(t, sched.Execute(ctx, "default", consOp.Out["result"]))

	n, err := sched.Drain(ctx, "default", time.Minute)
	require.NoError(t, err)
	// Generator, then the sub-DAG's two root-ready ops (the interior op
	// plus the generator again via the parents.subdag edge, which comes
	// back cached), then the released consumer.
	require.Equal(t, 4, n)

	// The consumer read through the linked indirection.
	require.Equal(t, []byte("INNER!"), mustGetBytes(t, hs, consOp.Out["result"]))

	linked, err := hs.artef.Get(ctx, genOp.Out["result"])
	require.NoError(t, err)
	require.Equal(t, artefact.Linked, linked.Status)
}

func TestDrainProcessesUntilQueueEmpty(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	out, _ := makeUpperOp(t, hs, "drain")

	sched := newScheduler(hs, worker.NewID())
	require.NoError(t, sched.Execute(ctx, "default", out.Hash))

	n, err := sched.Drain(ctx, "default", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := hs.artef.Get(ctx, out.Hash)
	require.NoError(t, err)
	require.Equal(t, artefact.Done, got.Status)
}
