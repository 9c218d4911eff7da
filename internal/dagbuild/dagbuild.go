// Package dagbuild materializes the subgraph of operations that must run
// to produce a target artefact, and maintains the global index of active
// DAG instances.
package dagbuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
)

// Instance is a materialized DAG for a single target.
type Instance struct {
	// Key is the target artefact hash, optionally followed by a
	// slash-separated sub-DAG suffix (e.g. "<target>/<subdag-parent-op-hash>").
	Key string
	// Operations is every operation that must run: the target's producing
	// chain of ancestors plus the target's own parent.
	Operations []string
	// Terminators names the operation(s) whose outputs are this DAG's
	// declared outputs, stored explicitly as a set so a sub-DAG with
	// several outputs releases its parent exactly when each tail runs.
	Terminators map[string]struct{}
}

// Builder constructs DAG instances over the operation graph.
type Builder struct {
	hub   hub.Client
	artef *artefact.Store
	ops   *op.Store
}

// New builds a Builder.
func New(client hub.Client, artef *artefact.Store, ops *op.Store) *Builder {
	return &Builder{hub: client, artef: artef, ops: ops}
}

// Build resolves the target to its producing operation, BFS's upward over
// `parents` (including `parents.subdag` edges), writes the per-op
// remaining-parents counter and operation set into the hub, then
// publishes the DAG key in the global index.
func (b *Builder) Build(ctx context.Context, target string) (*Instance, error) {
	return b.buildAs(ctx, []string{target}, target)
}

// BuildSub materializes the closure of several targets under one explicit
// DAG key, the shape a sub-DAG needs: every linked output of the
// originating operation becomes a terminator of the same
// "<dag_key>/<op_hash>" instance.
func (b *Builder) BuildSub(ctx context.Context, targets []string, key string) (*Instance, error) {
	return b.buildAs(ctx, targets, key)
}

func (b *Builder) buildAs(ctx context.Context, targets []string, key string) (*Instance, error) {
	inst := &Instance{Key: key, Terminators: map[string]struct{}{}}
	var roots []string
	for _, target := range targets {
		root, err := b.resolveProducer(ctx, target)
		if err != nil {
			return nil, err
		}
		if root == "" {
			// Root constant: nothing to schedule for this target.
			continue
		}
		if _, ok := inst.Terminators[root]; ok {
			continue
		}
		inst.Terminators[root] = struct{}{}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		if err := b.publish(ctx, inst); err != nil {
			return nil, err
		}
		return inst, nil
	}

	closure, err := b.ancestorClosure(ctx, roots)
	if err != nil {
		return nil, err
	}
	inst.Operations = closure

	if err := b.writeStatus(ctx, inst); err != nil {
		return nil, err
	}
	if err := b.hub.SAdd(ctx, hub.DAGTerminatorsKey(inst.Key), roots...); err != nil {
		return nil, err
	}
	if err := b.publish(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// IsTerminator reports whether opHash is one of dagKey's declared
// terminator operations, persisted so a worker that only has the DAG key
// (not the in-memory Instance) can still decide whether to notify the
// parent DAG.
func (b *Builder) IsTerminator(ctx context.Context, dagKey, opHash string) (bool, error) {
	return b.hub.SIsMember(ctx, hub.DAGTerminatorsKey(dagKey), opHash)
}

// resolveProducer maps a target artefact hash to the operation hash that
// produces it: itself if the target already names an operation, the
// artefact's parent otherwise, or "" if the artefact is a root constant.
func (b *Builder) resolveProducer(ctx context.Context, target string) (string, error) {
	if _, err := b.ops.Get(ctx, target); err == nil {
		return target, nil
	}
	a, err := b.artef.Get(ctx, target)
	if err != nil {
		return "", err
	}
	if a.Status == artefact.NotFound {
		return "", fmt.Errorf("dagbuild: unknown target %s", target)
	}
	if a.Parent == "" || a.Parent == hub.RootSentinel {
		return "", nil
	}
	return a.Parent, nil
}

// ancestorClosure BFS's upward from the roots over `parents` and
// `parents.subdag`, returning every operation that must complete before
// the roots can run, roots included.
func (b *Builder) ancestorClosure(ctx context.Context, roots []string) ([]string, error) {
	seen := map[string]struct{}{}
	var queue, order []string
	for _, root := range roots {
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		queue = append(queue, root)
		order = append(order, root)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		parents, err := b.ops.Parents(ctx, cur)
		if err != nil {
			return nil, err
		}
		subdagParents, err := b.ops.SubdagParents(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, p := range lo.Uniq(append(parents, subdagParents...)) {
			if p == hub.RootSentinel {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			order = append(order, p)
			queue = append(queue, p)
		}
	}
	return order, nil
}

// writeStatus rebuilds the DAG's persisted state from scratch (the
// counters, operation set, and terminator set are all per-rebuild), then
// writes each operation's remaining-parents counter (the cardinality of
// its `parents` set *within this closure*) and adds it to the DAG's
// operation set.
func (b *Builder) writeStatus(ctx context.Context, inst *Instance) error {
	if err := b.hub.Del(ctx,
		hub.DAGStatusKey(inst.Key),
		hub.DAGOperationsKey(inst.Key),
		hub.DAGTerminatorsKey(inst.Key),
	); err != nil {
		return err
	}
	inClosure := make(map[string]struct{}, len(inst.Operations))
	for _, o := range inst.Operations {
		inClosure[o] = struct{}{}
	}
	for _, o := range inst.Operations {
		parents, err := b.ops.Parents(ctx, o)
		if err != nil {
			return err
		}
		count := int64(0)
		for _, p := range parents {
			if p == hub.RootSentinel {
				continue
			}
			if _, ok := inClosure[p]; ok {
				count++
			}
		}
		if err := b.hub.HSet(ctx, hub.DAGStatusKey(inst.Key), map[string]string{
			o: fmt.Sprint(count),
		}); err != nil {
			return err
		}
		if err := b.hub.SAdd(ctx, hub.DAGOperationsKey(inst.Key), o); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) publish(ctx context.Context, inst *Instance) error {
	return b.hub.SAdd(ctx, hub.DAGIndexKey, inst.Key)
}

// RootReady enumerates the DAG's children of the root sentinel: the
// operations with no non-root parents, ready to enqueue immediately.
func (b *Builder) RootReady(ctx context.Context, inst *Instance) ([]string, error) {
	if len(inst.Operations) == 0 {
		return nil, nil
	}
	all, err := b.hub.SMembers(ctx, hub.OperationChildrenKey(hub.RootSentinel))
	if err != nil {
		return nil, err
	}
	inClosure := make(map[string]struct{}, len(inst.Operations))
	for _, o := range inst.Operations {
		inClosure[o] = struct{}{}
	}
	var ready []string
	for _, o := range all {
		if _, ok := inClosure[o]; ok {
			ready = append(ready, o)
		}
	}
	return ready, nil
}

// SubPath builds a sub-DAG's key from its enclosing DAG key and the
// originating operation hash: "<dag_key>/<op_hash>".
func SubPath(dagKey, opHash string) string {
	return dagKey + "/" + opHash
}

// IsSubPath reports whether key names a sub-DAG (contains a "/").
func IsSubPath(key string) bool { return strings.Contains(key, "/") }
