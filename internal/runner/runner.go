package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
)

// Status is the outcome of running one operation, consumed by the
// scheduler to decide whether to advance dependents or recurse.
type Status string

const (
	Executed    Status = "executed"
	SubdagReady Status = "subdag_ready"
	InputError  Status = "input_error"
)

// Runner executes a single operation's funsie, reading inputs and writing
// outputs through the artefact store and storage engine.
type Runner struct {
	artef    *artefact.Store
	storage  storage.Engine
	registry *funsie.Registry
}

// New builds a Runner. registry may be nil to use the package-global
// funsie registry (the common case: callables register themselves via
// init() against funsie.Register).
func New(artef *artefact.Store, eng storage.Engine, registry *funsie.Registry) *Runner {
	return &Runner{artef: artef, storage: eng, registry: registry}
}

// Result carries the outcome of Run, including any sub-DAG link targets
// the scheduler must walk next.
type Result struct {
	Status        Status
	LinkedTargets map[string]string // output name -> target artefact hash (subdag only)
}

// Run executes o's funsie f: loads inputs, checks error-tolerance, and
// dispatches to the how-specific implementation.
func (r *Runner) Run(ctx context.Context, o *op.Operation, f *funsie.Funsie) (Result, error) {
	inputs, propagated, err := r.loadInputs(ctx, o, f)
	if err != nil {
		return Result{}, err
	}
	if propagated != nil {
		for _, outHash := range o.Out {
			if err := r.artef.MarkError(ctx, outHash, *propagated); err != nil {
				return Result{}, err
			}
		}
		return Result{Status: InputError}, nil
	}

	switch f.How {
	case funsie.Shell:
		return r.runShell(ctx, o, f, inputs)
	case funsie.Func:
		return r.runFunc(ctx, o, f, inputs)
	case funsie.Subdag:
		return r.runSubdag(ctx, o, f, inputs)
	default:
		return Result{}, fmt.Errorf("runner: unknown how-kind %v", f.How)
	}
}

// loadInputs reads and decodes every declared input. If any input carries
// an Error and the funsie is not error_tolerant, it returns the Error to
// propagate unchanged instead of decoded values.
func (r *Runner) loadInputs(ctx context.Context, o *op.Operation, f *funsie.Funsie) (map[string]codec.Value, *ferrors.Error, error) {
	inputs := make(map[string]codec.Value, len(o.Inp))
	for name, hash := range o.Inp {
		a, err := r.artef.Get(ctx, hash)
		if err != nil {
			return nil, nil, err
		}
		if a.Status == artefact.Error {
			if !f.ErrorTolerant {
				e, err := r.artef.GetError(ctx, hash)
				if err != nil {
					return nil, nil, err
				}
				return nil, e, nil
			}
			e, err := r.artef.GetError(ctx, hash)
			if err != nil {
				return nil, nil, err
			}
			inputs[name] = codec.Value{Kind: codec.JSON, JSON: e}
			continue
		}
		raw, err := r.getBytes(ctx, a)
		if err != nil {
			return nil, nil, err
		}
		kind := f.Inp[name]
		v, ferr := codec.Decode(kind, raw)
		if ferr != nil {
			return nil, ferr, nil
		}
		inputs[name] = v
	}
	return inputs, nil, nil
}

func (r *Runner) getBytes(ctx context.Context, a *artefact.Artefact) ([]byte, error) {
	target := a.Hash
	if a.Status == artefact.Linked {
		link, err := r.artef.Link(ctx, a.Hash)
		if err != nil {
			return nil, err
		}
		target = link
	}
	data, err := r.storage.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("runner: reading %s: %w", target, err)
	}
	return data, nil
}

func sortedNames(m map[string]codec.Kind) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runFunc invokes the registered Go callable backing a func-how funsie.
// Inputs and outputs are passed/returned in sorted-name order, so the
// Callable signature stays positional while funsies stay name-keyed.
func (r *Runner) runFunc(ctx context.Context, o *op.Operation, f *funsie.Funsie, inputs map[string]codec.Value) (Result, error) {
	fn, ok := r.lookupFunc(f.What)
	if !ok {
		return r.failAll(ctx, o, ferrors.New(ferrors.ExceptionRaised, "unregistered function "+f.What))
	}
	return r.invokeFunc(ctx, o, f, fn, inputs)
}

func (r *Runner) lookupFunc(name string) (funsie.Callable, bool) {
	if r.registry != nil {
		return r.registry.Lookup(name)
	}
	return funsie.Lookup(name)
}

func (r *Runner) lookupSubdag(name string) (funsie.SubdagFunc, bool) {
	if r.registry != nil {
		return r.registry.LookupSubdag(name)
	}
	return funsie.LookupSubdag(name)
}

func (r *Runner) invokeFunc(ctx context.Context, o *op.Operation, f *funsie.Funsie, fn funsie.Callable, inputs map[string]codec.Value) (Result, error) {
	inNames := sortedNames(f.Inp)
	args := make([]codec.Value, len(inNames))
	for i, name := range inNames {
		args[i] = inputs[name]
	}
	results, err := fn(args)
	if err != nil {
		return r.failAll(ctx, o, ferrors.New(ferrors.ExceptionRaised, err.Error()))
	}
	outNames := sortedNames(f.Out)
	if len(results) != len(outNames) {
		return r.failAll(ctx, o, ferrors.New(ferrors.MissingOutput, "callable returned a different number of outputs than declared"))
	}
	for i, name := range outNames {
		if err := r.writeOutput(ctx, o, f, o.Out[name], name, results[i]); err != nil {
			return Result{}, err
		}
	}
	return Result{Status: Executed}, nil
}

// runSubdag invokes the registered sub-DAG generator and links each
// declared output to the artefact reference it returns.
func (r *Runner) runSubdag(ctx context.Context, o *op.Operation, f *funsie.Funsie, inputs map[string]codec.Value) (Result, error) {
	fn, ok := r.lookupSubdag(f.What)
	if !ok {
		return r.failAll(ctx, o, ferrors.New(ferrors.ExceptionRaised, "unregistered subdag generator "+f.What))
	}
	inNames := sortedNames(f.Inp)
	args := make([]codec.Value, len(inNames))
	for i, name := range inNames {
		args[i] = inputs[name]
	}
	refs, err := fn(args)
	if err != nil {
		return r.failAll(ctx, o, ferrors.New(ferrors.ExceptionRaised, err.Error()))
	}
	linked := make(map[string]string, len(refs))
	for name, outHash := range o.Out {
		target, ok := refs[name]
		if !ok {
			if err := r.artef.MarkError(ctx, outHash, ferrors.FromOp(ferrors.MissingOutput, o.Hash, "subdag did not produce output "+name)); err != nil {
				return Result{}, err
			}
			continue
		}
		if err := r.artef.MarkLinked(ctx, outHash, target); err != nil {
			return Result{}, err
		}
		linked[name] = target
	}
	return Result{Status: SubdagReady, LinkedTargets: linked}, nil
}

func (r *Runner) writeOutput(ctx context.Context, o *op.Operation, f *funsie.Funsie, outHash, name string, v codec.Value) error {
	kind := f.Out[name]
	raw, ferr := codec.Encode(kind, v)
	if ferr != nil {
		return r.artef.MarkError(ctx, outHash, ferrors.FromOp(ferr.Kind, o.Hash, ferr.Details))
	}
	if err := r.storage.Put(ctx, outHash, raw); err != nil {
		e := ferrors.New(ferrors.ExceptionRaised, err.Error())
		return r.artef.MarkError(ctx, outHash, e)
	}
	return r.artef.MarkDone(ctx, outHash)
}

// failAll marks every declared output of o as the same Error, the shared
// tail of every how-kind's failure path.
func (r *Runner) failAll(ctx context.Context, o *op.Operation, e ferrors.Error) (Result, error) {
	e.Source = o.Hash
	for _, outHash := range o.Out {
		if err := r.artef.MarkError(ctx, outHash, e); err != nil {
			return Result{}, err
		}
	}
	return Result{Status: Executed}, nil
}

// runShell executes a shell funsie's packed command lines in a fresh
// scratch directory using a real POSIX interpreter.
func (r *Runner) runShell(ctx context.Context, o *op.Operation, f *funsie.Funsie, inputs map[string]codec.Value) (Result, error) {
	spec, err := UnpackShellSpec(f.Extra)
	if err != nil {
		return r.failAll(ctx, o, ferrors.New(ferrors.ExceptionRaised, "decoding shell spec: "+err.Error()))
	}

	scratch, err := os.MkdirTemp("", "funsies-*")
	if err != nil {
		return Result{}, fmt.Errorf("runner: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	for name, v := range inputs {
		if strings.HasPrefix(name, "__special__/") {
			continue
		}
		raw, ferr := codec.Encode(f.Inp[name], v)
		if ferr != nil {
			return r.failAll(ctx, o, *ferr)
		}
		path := filepath.Join(scratch, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Result{}, err
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return Result{}, err
		}
	}

	env := mergeEnv(os.Environ(), spec.Env)

	for i, cmdline := range spec.Commands {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		stdout, stderr, code, runErr := runOne(ctx, cmdline, scratch, env)
		if runErr != nil && code == -1 {
			return Result{}, fmt.Errorf("runner: parsing command %d: %w", i, runErr)
		}
		if err := r.writeSpecialOutput(ctx, o, StdoutName(i), stdout); err != nil {
			return Result{}, err
		}
		if err := r.writeSpecialOutput(ctx, o, StderrName(i), stderr); err != nil {
			return Result{}, err
		}
		if err := r.writeSpecialJSON(ctx, o, ReturncodeName(i), code); err != nil {
			return Result{}, err
		}
	}

	// A command cut short by the deadline leaves half-written output files;
	// surface the timeout rather than misreporting them as missing.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	for name, kind := range f.Out {
		if strings.HasPrefix(name, "__special__/") {
			continue
		}
		path := filepath.Join(scratch, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				if mErr := r.artef.MarkError(ctx, o.Out[name], ferrors.FromOp(ferrors.MissingOutput, o.Hash, "output file not produced: "+name)); mErr != nil {
					return Result{}, mErr
				}
				continue
			}
			return Result{}, err
		}
		v, ferr := codec.Decode(kind, raw)
		if ferr != nil {
			if mErr := r.artef.MarkError(ctx, o.Out[name], ferrors.FromOp(ferr.Kind, o.Hash, ferr.Details)); mErr != nil {
				return Result{}, mErr
			}
			continue
		}
		if err := r.writeOutput(ctx, o, f, o.Out[name], name, v); err != nil {
			return Result{}, err
		}
	}
	return Result{Status: Executed}, nil
}

func (r *Runner) writeSpecialOutput(ctx context.Context, o *op.Operation, name string, data []byte) error {
	outHash, ok := o.Out[name]
	if !ok {
		return nil
	}
	if err := r.storage.Put(ctx, outHash, data); err != nil {
		return err
	}
	return r.artef.MarkDone(ctx, outHash)
}

func (r *Runner) writeSpecialJSON(ctx context.Context, o *op.Operation, name string, code int) error {
	outHash, ok := o.Out[name]
	if !ok {
		return nil
	}
	enc, ferr := codec.Encode(codec.JSON, codec.Any(code))
	if ferr != nil {
		return r.artef.MarkError(ctx, outHash, *ferr)
	}
	if err := r.storage.Put(ctx, outHash, enc); err != nil {
		return err
	}
	return r.artef.MarkDone(ctx, outHash)
}

// runOne runs a single shell command line to completion, capturing
// stdout/stderr and the exit code. A parse failure is reported via
// code == -1 together with the error.
func runOne(ctx context.Context, cmdline, dir string, env []string) (stdout, stderr []byte, code int, err error) {
	file, parseErr := syntax.NewParser().Parse(strings.NewReader(cmdline), "")
	if parseErr != nil {
		return nil, nil, -1, parseErr
	}
	var outBuf, errBuf bytes.Buffer
	runner, rErr := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &outBuf, &errBuf),
	)
	if rErr != nil {
		return nil, nil, -1, rErr
	}
	runErr := runner.Run(ctx, file)
	status := 0
	if exit, ok := interp.IsExitStatus(runErr); ok {
		status = int(exit)
	} else if runErr != nil {
		status = 1
	}
	return outBuf.Bytes(), errBuf.Bytes(), status, nil
}

// mergeEnv layers extra onto base: the worker's environment is kept, with
// the funsie's own variables overriding individual keys.
func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			if _, shadowed := extra[k]; shadowed {
				continue
			}
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

