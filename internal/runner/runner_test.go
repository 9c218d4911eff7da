package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/options"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/runner"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
)

func newRig(t *testing.T) (*op.Store, *artefact.Store, *runner.Runner) {
	t.Helper()
	client := hub.NewFake()
	idx, err := hashid.NewIndex(client, 64)
	require.NoError(t, err)
	eng := storage.NewHubEngine(client)
	artef := artefact.NewStore(client, idx, eng)
	ops := op.NewStore(client, idx, artef)
	return ops, artef, runner.New(artef, eng, nil)
}

func TestRunShellWritesDeclaredOutputAndSpecials(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	spec := runner.ShellSpec{Commands: []string{"echo hi > out.txt"}}
	extra, err := spec.Pack()
	require.NoError(t, err)

	f, err := funsie.New(funsie.Shell, spec.Commands[0],
		map[string]codec.Kind{},
		map[string]codec.Kind{
			"out.txt":                codec.Blob,
			runner.StdoutName(0):     codec.Blob,
			runner.StderrName(0):     codec.Blob,
			runner.ReturncodeName(0): codec.JSON,
		},
		false, extra)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.Executed, res.Status)

	got, err := artef.Get(ctx, o.Out["out.txt"])
	require.NoError(t, err)
	require.Equal(t, artefact.Done, got.Status)

	code, err := artef.Get(ctx, o.Out[runner.ReturncodeName(0)])
	require.NoError(t, err)
	require.Equal(t, artefact.Done, code.Status)
}

func TestRunShellMissingOutputFileMarksError(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	spec := runner.ShellSpec{Commands: []string{"true"}}
	extra, err := spec.Pack()
	require.NoError(t, err)

	f, err := funsie.New(funsie.Shell, spec.Commands[0],
		map[string]codec.Kind{}, map[string]codec.Kind{"missing.txt": codec.Blob},
		false, extra)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.Executed, res.Status)

	got, err := artef.Get(ctx, o.Out["missing.txt"])
	require.NoError(t, err)
	require.Equal(t, artefact.Error, got.Status)

	stored, err := artef.GetError(ctx, o.Out["missing.txt"])
	require.NoError(t, err)
	require.Equal(t, ferrors.MissingOutput, stored.Kind)
}

func TestRunFuncInvokesRegisteredCallable(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	name := "runner_test.double"
	require.NoError(t, funsie.Register(name, func(in []codec.Value) ([]codec.Value, error) {
		n, _ := in[0].JSON.(float64)
		return []codec.Value{codec.Any(n * 2)}, nil
	}, func() ([]byte, error) { return nil, nil }))

	x, err := artef.PutConstant(ctx, codec.JSON, codec.Any(21.0))
	require.NoError(t, err)

	f, err := funsie.New(funsie.Func, name,
		map[string]codec.Kind{"x": codec.JSON}, map[string]codec.Kind{"y": codec.JSON},
		false, nil)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{"x": x.Hash}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.Executed, res.Status)

	got, err := artef.Get(ctx, o.Out["y"])
	require.NoError(t, err)
	require.Equal(t, artefact.Done, got.Status)
}

func TestRunFuncErrorMarksAllOutputsAsError(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	name := "runner_test.fails"
	require.NoError(t, funsie.Register(name, func(in []codec.Value) ([]codec.Value, error) {
		return nil, errors.New("boom")
	}, func() ([]byte, error) { return nil, nil }))

	f, err := funsie.New(funsie.Func, name,
		map[string]codec.Kind{}, map[string]codec.Kind{"y": codec.JSON},
		false, nil)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.Executed, res.Status)

	got, err := artef.Get(ctx, o.Out["y"])
	require.NoError(t, err)
	require.Equal(t, artefact.Error, got.Status)

	stored, err := artef.GetError(ctx, o.Out["y"])
	require.NoError(t, err)
	require.Equal(t, ferrors.ExceptionRaised, stored.Kind)
	require.Equal(t, "boom", stored.Details)
}

func TestRunPropagatesUpstreamErrorWhenNotTolerant(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	x, err := artef.DeclareVariable(ctx, "upstream-op", "out1", codec.Blob)
	require.NoError(t, err)
	require.NoError(t, artef.MarkError(ctx, x.Hash, ferrors.New(ferrors.MissingOutput, "upstream never produced it")))

	name := "runner_test.passthrough"
	require.NoError(t, funsie.Register(name, func(in []codec.Value) ([]codec.Value, error) {
		return in, nil
	}, func() ([]byte, error) { return nil, nil }))

	f, err := funsie.New(funsie.Func, name,
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"y": codec.Blob},
		false, nil)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{"x": x.Hash}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.InputError, res.Status)

	got, err := artef.Get(ctx, o.Out["y"])
	require.NoError(t, err)
	require.Equal(t, artefact.Error, got.Status)

	stored, err := artef.GetError(ctx, o.Out["y"])
	require.NoError(t, err)
	require.Equal(t, ferrors.MissingOutput, stored.Kind)
}

func TestRunErrorTolerantFunsieReceivesErrorAsValue(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	x, err := artef.DeclareVariable(ctx, "upstream-op", "out1", codec.Blob)
	require.NoError(t, err)
	require.NoError(t, artef.MarkError(ctx, x.Hash, ferrors.New(ferrors.MissingOutput, "nope")))

	name := "runner_test.tolerant"
	require.NoError(t, funsie.Register(name, func(in []codec.Value) ([]codec.Value, error) {
		return []codec.Value{codec.Any(true)}, nil
	}, func() ([]byte, error) { return nil, nil }))

	f, err := funsie.New(funsie.Func, name,
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"ok": codec.JSON},
		true, nil)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{"x": x.Hash}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.Executed, res.Status)

	got, err := artef.Get(ctx, o.Out["ok"])
	require.NoError(t, err)
	require.Equal(t, artefact.Done, got.Status)
}

func TestRunSubdagLinksDeclaredOutputs(t *testing.T) {
	ctx := context.Background()
	ops, artef, run := newRig(t)

	target, err := artef.PutConstant(ctx, codec.Blob, codec.Bytes([]byte("inner result")))
	require.NoError(t, err)

	name := "runner_test.subdag"
	require.NoError(t, funsie.RegisterSubdag(name, func(in []codec.Value) (map[string]string, error) {
		return map[string]string{"result": target.Hash}, nil
	}))

	f, err := funsie.New(funsie.Subdag, name,
		map[string]codec.Kind{}, map[string]codec.Kind{"result": codec.Blob},
		false, nil)
	require.NoError(t, err)

	o, err := ops.Make(ctx, f, map[string]string{}, options.Default())
	require.NoError(t, err)

	res, err := run.Run(ctx, o, f)
	require.NoError(t, err)
	require.Equal(t, runner.SubdagReady, res.Status)
	require.Equal(t, target.Hash, res.LinkedTargets["result"])

	got, err := artef.Get(ctx, o.Out["result"])
	require.NoError(t, err)
	require.Equal(t, artefact.Linked, got.Status)

	resolved, err := artef.Link(ctx, o.Out["result"])
	require.NoError(t, err)
	require.Equal(t, target.Hash, resolved)
}
