// Package client implements the user-facing builder API
// (Put/Shell/Py/Morph/Reduce/Execute/WaitFor/Take/Reset/Template) through
// which user code constructs and drives a funsies graph, as opposed to
// internal/scheduler which is the worker-side machinery that actually
// runs operations.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/dagbuild"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/options"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/queue"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/runner"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
)

// Context is the session a user's graph-building code runs against: the
// hub connection, storage backend, and the stores built on top of them.
type Context struct {
	Hub     hub.Client
	Idx     *hashid.Index
	Storage storage.Engine
	Artef   *artefact.Store
	Ops     *op.Store
	Dags    *dagbuild.Builder
	Queue   *queue.Queue

	// DefaultQueue names the queue Execute enqueues root-ready operations
	// onto when an operation's own Options don't override it.
	DefaultQueue string
}

// New builds a Context over an already-connected hub client and storage
// engine.
func New(client hub.Client, idx *hashid.Index, eng storage.Engine) *Context {
	artef := artefact.NewStore(client, idx, eng)
	ops := op.NewStore(client, idx, artef)
	return &Context{
		Hub:          client,
		Idx:          idx,
		Storage:      eng,
		Artef:        artef,
		Ops:          ops,
		Dags:         dagbuild.New(client, artef, ops),
		Queue:        queue.New(client),
		DefaultQueue: "default",
	}
}

// Put eagerly stores value as a const artefact.
func (c *Context) Put(ctx context.Context, kind codec.Kind, value codec.Value) (*artefact.Artefact, error) {
	return c.Artef.PutConstant(ctx, kind, value)
}

// PutBytes is Put specialized to blob-kind data.
func (c *Context) PutBytes(ctx context.Context, b []byte) (*artefact.Artefact, error) {
	return c.Put(ctx, codec.Blob, codec.Bytes(b))
}

// PutJSON is Put specialized to json-kind data.
func (c *Context) PutJSON(ctx context.Context, v interface{}) (*artefact.Artefact, error) {
	return c.Put(ctx, codec.JSON, codec.Any(v))
}

func kindsOf(inputs map[string]*artefact.Artefact) map[string]codec.Kind {
	kinds := make(map[string]codec.Kind, len(inputs))
	for name, a := range inputs {
		kinds[name] = a.Kind
	}
	return kinds
}

func hashesOf(inputs map[string]*artefact.Artefact) map[string]string {
	hashes := make(map[string]string, len(inputs))
	for name, a := range inputs {
		hashes[name] = a.Hash
	}
	return hashes
}

// ShellResult exposes a shell funsie's per-command stdout, stderr, and
// returncode artefacts alongside its user-named outputs.
type ShellResult struct {
	Stdout      []*artefact.Artefact
	Stderr      []*artefact.Artefact
	Returncode  []*artefact.Artefact
	Outputs     map[string]*artefact.Artefact
	Operation   *op.Operation
}

// Shell constructs a shell funsie + operation.
// cmds are run in order in a fresh scratch directory; inputs are written as
// files named by their map key; outNames declares the output files to read
// back (by kind); env entries are layered onto the worker's environment;
// strict false makes the funsie error_tolerant.
func (c *Context) Shell(
	ctx context.Context,
	cmds []string,
	inputs map[string]*artefact.Artefact,
	outNames map[string]codec.Kind,
	env map[string]string,
	strict bool,
	opts ...Option,
) (*ShellResult, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("client: shell requires at least one command")
	}
	inpKinds := kindsOf(inputs)
	outKinds := make(map[string]codec.Kind, len(outNames)+3*len(cmds))
	for name, k := range outNames {
		outKinds[name] = k
	}
	for i := range cmds {
		outKinds[runner.StdoutName(i)] = codec.Blob
		outKinds[runner.StderrName(i)] = codec.Blob
		outKinds[runner.ReturncodeName(i)] = codec.JSON
	}

	spec := runner.ShellSpec{Commands: cmds, Env: env}
	extra, err := spec.Pack()
	if err != nil {
		return nil, err
	}
	// what is the command sequence itself: two shells differing only in
	// their command text must hash differently even though Extra (which
	// also carries the commands, plus env) is excluded from hashing.
	what := strings.Join(cmds, "\n")
	f, err := funsie.New(funsie.Shell, what, inpKinds, outKinds, !strict, extra)
	if err != nil {
		return nil, err
	}
	o, err := c.Ops.Make(ctx, f, hashesOf(inputs), applyOptions(opts))
	if err != nil {
		return nil, err
	}

	result := &ShellResult{
		Outputs:   make(map[string]*artefact.Artefact, len(outNames)),
		Operation: o,
	}
	for i := range cmds {
		stdout, err := c.Artef.Get(ctx, o.Out[runner.StdoutName(i)])
		if err != nil {
			return nil, err
		}
		stderr, err := c.Artef.Get(ctx, o.Out[runner.StderrName(i)])
		if err != nil {
			return nil, err
		}
		code, err := c.Artef.Get(ctx, o.Out[runner.ReturncodeName(i)])
		if err != nil {
			return nil, err
		}
		result.Stdout = append(result.Stdout, stdout)
		result.Stderr = append(result.Stderr, stderr)
		result.Returncode = append(result.Returncode, code)
	}
	for name := range outNames {
		a, err := c.Artef.Get(ctx, o.Out[name])
		if err != nil {
			return nil, err
		}
		result.Outputs[name] = a
	}
	return result, nil
}

// Py constructs a func-how funsie bound to the Go callable registered
// under name. Output kinds come from funsie.OutputKinds, the
// registration-time reflection over the callable's real Go signature;
// outNames assigns each inferred output a name, in the same order
// InferOutputKinds produced them, and must have one entry per inferred
// output.
func (c *Context) Py(
	ctx context.Context,
	name string,
	inputs map[string]*artefact.Artefact,
	outNames []string,
	strict bool,
	opts ...Option,
) (map[string]*artefact.Artefact, error) {
	kinds, ok := funsie.OutputKinds(name)
	if !ok {
		return nil, fmt.Errorf("client: py: %q is not a registered function", name)
	}
	if len(kinds) != len(outNames) {
		return nil, fmt.Errorf("client: py: %q produces %d outputs, got %d names", name, len(kinds), len(outNames))
	}
	outKinds := make(map[string]codec.Kind, len(outNames))
	for i, n := range outNames {
		outKinds[n] = kinds[i]
	}
	f, err := funsie.New(funsie.Func, name, kindsOf(inputs), outKinds, !strict, nil)
	if err != nil {
		return nil, err
	}
	o, err := c.Ops.Make(ctx, f, hashesOf(inputs), applyOptions(opts))
	if err != nil {
		return nil, err
	}
	outs := make(map[string]*artefact.Artefact, len(outNames))
	for _, n := range outNames {
		a, err := c.Artef.Get(ctx, o.Out[n])
		if err != nil {
			return nil, err
		}
		outs[n] = a
	}
	return outs, nil
}

// Morph is Py specialized to exactly one input named "x" and one output.
func (c *Context) Morph(ctx context.Context, name string, x *artefact.Artefact, outName string, strict bool, opts ...Option) (*artefact.Artefact, error) {
	outs, err := c.Py(ctx, name, map[string]*artefact.Artefact{"x": x}, []string{outName}, strict, opts...)
	if err != nil {
		return nil, err
	}
	return outs[outName], nil
}

// Reduce is Py specialized to one output over arbitrarily many inputs.
func (c *Context) Reduce(ctx context.Context, name string, xs map[string]*artefact.Artefact, outName string, strict bool, opts ...Option) (*artefact.Artefact, error) {
	outs, err := c.Py(ctx, name, xs, []string{outName}, strict, opts...)
	if err != nil {
		return nil, err
	}
	return outs[outName], nil
}

// Subdag constructs a subdag-how funsie bound to the registered generator
// name.
func (c *Context) Subdag(
	ctx context.Context,
	name string,
	inputs map[string]*artefact.Artefact,
	outKinds map[string]codec.Kind,
	strict bool,
	opts ...Option,
) (*op.Operation, error) {
	if _, ok := funsie.LookupSubdag(name); !ok {
		return nil, fmt.Errorf("client: subdag: %q is not a registered generator", name)
	}
	f, err := funsie.New(funsie.Subdag, name, kindsOf(inputs), outKinds, !strict, nil)
	if err != nil {
		return nil, err
	}
	return c.Ops.Make(ctx, f, hashesOf(inputs), applyOptions(opts))
}

// Option customizes the Options an operation is constructed with.
type Option func(*options.Options)

// WithQueue routes the operation's task onto a named queue.
func WithQueue(name string) Option { return func(o *options.Options) { o.Queue = name } }

// WithTimeout bounds a single task attempt's wall-clock duration.
func WithTimeout(d time.Duration) Option { return func(o *options.Options) { o.Timeout = d } }

// WithoutEvaluation marks the operation evaluate=false: its task fails
// fast without running the funsie, so a DAG can be built without
// executing it.
func WithoutEvaluation() Option { return func(o *options.Options) { o.Evaluate = false } }

func applyOptions(opts []Option) options.Options {
	o := options.Default()
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// Execute starts a DAG execution per target: builds the DAG and enqueues
// whatever is immediately ready.
func (c *Context) Execute(ctx context.Context, targets ...string) error {
	for _, target := range targets {
		inst, err := c.Dags.Build(ctx, target)
		if err != nil {
			return fmt.Errorf("client: execute %s: %w", target, err)
		}
		ready, err := c.Dags.RootReady(ctx, inst)
		if err != nil {
			return err
		}
		for _, opHash := range ready {
			queueName := c.DefaultQueue
			if o, err := c.Ops.Get(ctx, opHash); err == nil && o.Options.Queue != "" {
				queueName = o.Options.Queue
			}
			if err := c.Queue.Enqueue(ctx, queueName, queue.Job{DAGKey: inst.Key, OpHash: opHash}); err != nil {
				return err
			}
		}
	}
	return nil
}

// pollInterval paces WaitFor, the calling process's own blocking wait
// (not a worker's).
const pollInterval = 300 * time.Millisecond

// WaitFor blocks the caller until target's status settles or timeout
// elapses. An operation hash is waited on via its cached predicate: every
// output settled.
func (c *Context) WaitFor(ctx context.Context, target string, timeout time.Duration) error {
	_, opErr := c.Ops.Get(ctx, target)
	isOp := opErr == nil
	deadline := time.Now().Add(timeout)
	for {
		if isOp {
			cached, err := c.Ops.Cached(ctx, target)
			if err != nil {
				return err
			}
			if cached {
				return nil
			}
		} else {
			a, err := c.Artef.Get(ctx, target)
			if err != nil {
				return err
			}
			if a.Status.Settled() || a.Status == artefact.Linked {
				return nil
			}
		}
		if timeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("client: wait_for %s: timed out after %s", hashid.Short(target), timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Take reads an artefact's value. A linked artefact is
// followed to its target. In the error status, strict=true returns
// ferrors.UnwrapError; strict=false returns the Error itself as a JSON
// value instead of failing.
func (c *Context) Take(ctx context.Context, target string, strict bool) (codec.Value, error) {
	a, err := c.Artef.Get(ctx, target)
	if err != nil {
		return codec.Value{}, err
	}
	if a.Status == artefact.Linked {
		linked, err := c.Artef.Link(ctx, target)
		if err != nil {
			return codec.Value{}, err
		}
		return c.Take(ctx, linked, strict)
	}
	if a.Status == artefact.Error {
		e, err := c.Artef.GetError(ctx, target)
		if err != nil {
			return codec.Value{}, err
		}
		if strict {
			return codec.Value{}, &ferrors.UnwrapError{Err: *e}
		}
		return codec.Any(*e), nil
	}
	if !a.Status.Settled() {
		return codec.Value{}, fmt.Errorf("client: take %s: artefact is not settled (status=%s)", hashid.Short(target), a.Status)
	}
	raw, err := c.Storage.Get(ctx, a.Hash)
	if err != nil {
		return codec.Value{}, fmt.Errorf("client: reading %s: %w", hashid.Short(target), err)
	}
	v, ferr := codec.Decode(a.Kind, raw)
	if ferr != nil {
		return codec.Value{}, fmt.Errorf("client: decoding %s: %s", hashid.Short(target), ferr.String())
	}
	return v, nil
}

// Reset deletes output data of opOrArtefact and, if recursive, of every
// descendant operation transitively. Const artefacts refuse reset.
func (c *Context) Reset(ctx context.Context, opOrArtefact string, recursive bool) error {
	root, err := c.resolveOp(ctx, opOrArtefact)
	if err != nil {
		return err
	}

	ops := []string{root}
	if recursive {
		ops, err = c.descendantOps(ctx, root)
		if err != nil {
			return err
		}
	}
	for _, opHash := range ops {
		o, err := c.Ops.Get(ctx, opHash)
		if err != nil {
			return err
		}
		for _, outHash := range o.Out {
			if err := c.Artef.Reset(ctx, outHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Context) resolveOp(ctx context.Context, opOrArtefact string) (string, error) {
	if _, err := c.Ops.Get(ctx, opOrArtefact); err == nil {
		return opOrArtefact, nil
	}
	a, err := c.Artef.Get(ctx, opOrArtefact)
	if err != nil {
		return "", err
	}
	if a.Status == artefact.NotFound {
		return "", fmt.Errorf("client: reset: %s is neither a known operation nor artefact", hashid.Short(opOrArtefact))
	}
	if a.Parent == "" || a.Parent == hub.RootSentinel {
		return "", fmt.Errorf("client: reset: %s is const and cannot be reset", hashid.Short(opOrArtefact))
	}
	return a.Parent, nil
}

// descendantOps BFS's forward over the `children` edge from root.
func (c *Context) descendantOps(ctx context.Context, root string) ([]string, error) {
	seen := map[string]struct{}{root: {}}
	queue := []string{root}
	order := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := c.Ops.Children(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, ch := range children {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			order = append(order, ch)
			queue = append(queue, ch)
		}
	}
	return order, nil
}
