// Package parametric implements named, frozen subgraphs that can be
// replayed with new input values.
package parametric

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/options"
)

// Store commits and recalls parametric subgraphs over an operation graph.
type Store struct {
	hub   hub.Client
	idx   *hashid.Index
	artef *artefact.Store
	ops   *op.Store
}

// New builds a parametric Store.
func New(client hub.Client, idx *hashid.Index, artef *artefact.Store, ops *op.Store) *Store {
	return &Store{hub: client, idx: idx, artef: artef, ops: ops}
}

// Commit freezes a subgraph: collect the ops between the declared inputs
// and outputs, topologically sort them, and
// hash the subgraph symbolically (inputs substituted by their declared
// names) so it can be recalled later with different concrete inputs. name
// is an optional human-readable alias; pass "" to commit unnamed.
func (s *Store) Commit(ctx context.Context, name string, inputs, outputs map[string]string) (string, error) {
	outputOps := make(map[string]struct{})
	for _, artefactHash := range outputs {
		producer, err := s.producerOf(ctx, artefactHash)
		if err != nil {
			return "", err
		}
		outputOps[producer] = struct{}{}
	}

	ancestors, err := s.ancestors(ctx, lo.Keys(outputOps))
	if err != nil {
		return "", err
	}
	descendants, err := s.descendants(ctx, lo.Values(inputs))
	if err != nil {
		return "", err
	}

	opSet := intersect(ancestors, descendants)
	if len(opSet) == 0 {
		return "", fmt.Errorf("parametric: empty subgraph between declared inputs and outputs")
	}

	order, err := s.topoSort(ctx, opSet)
	if err != nil {
		return "", err
	}

	declaredName := make(map[string]string, len(inputs)) // original input artefact hash -> declared name
	for n, h := range inputs {
		declaredName[h] = n
	}

	newOpHash := make(map[string]string, len(order))     // original op hash -> rehashed op hash
	synthesized := make(map[string]string, len(order)*2) // original output artefact hash -> "<newophash>:<name>"

	for _, origOpHash := range order {
		o, err := s.ops.Get(ctx, origOpHash)
		if err != nil {
			return "", err
		}
		substituted := make(map[string]string, len(o.Inp))
		for name, h := range o.Inp {
			switch {
			case declaredName[h] != "":
				substituted[name] = declaredName[h]
			case synthesized[h] != "":
				substituted[name] = synthesized[h]
			default:
				substituted[name] = h
			}
		}
		rehashed := op.Hash(o.Funsie, substituted)
		newOpHash[origOpHash] = rehashed
		for outName, outHash := range o.Out {
			synthesized[outHash] = fmt.Sprintf("%s:%s", rehashed, outName)
		}
	}

	names := lo.Keys(outputs)
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("parametric")
	for _, n := range names {
		origOutHash := outputs[n]
		b.WriteString(fmt.Sprintf("output:%s, hash:%s", n, synthesized[origOutHash]))
	}
	hash := hashid.Sum(b.String())

	if err := s.persist(ctx, hash, name, order, inputs, outputs); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Store) persist(ctx context.Context, hash, name string, order []string, inputs, outputs map[string]string) error {
	exists, err := s.hub.Exists(ctx, hub.ParametricKey(hash))
	if err != nil {
		return err
	}
	if !exists {
		if err := s.hub.RPush(ctx, hub.ParametricKey(hash), order...); err != nil {
			return err
		}
		if err := s.hub.HSet(ctx, hub.ParametricInpKey(hash), inputs); err != nil {
			return err
		}
		if err := s.hub.HSet(ctx, hub.ParametricOutKey(hash), outputs); err != nil {
			return err
		}
		if err := s.idx.Register(ctx, hash); err != nil {
			return err
		}
	}
	if name != "" {
		if err := s.hub.Set(ctx, hub.ParametricNameKey(hash), name); err != nil {
			return err
		}
		if err := s.hub.HSet(ctx, hub.ParametricNamesKey, map[string]string{name: hash}); err != nil {
			return err
		}
	}
	return nil
}

// Recall replays a committed subgraph: walk the saved op order, substitute
// newInputs (keyed by the same declared names used at Commit) for the
// declared input points, and re-invoke make_op so unchanged subtrees are
// reused via hash-determinism. Returns the declared output names mapped to
// their (possibly newly created) artefact hashes.
func (s *Store) Recall(ctx context.Context, nameOrHash string, newInputs map[string]string) (map[string]string, error) {
	hash, err := s.resolve(ctx, nameOrHash)
	if err != nil {
		return nil, err
	}

	order, err := s.hub.LRange(ctx, hub.ParametricKey(hash), 0, -1)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("parametric: %s not found", hashid.Short(hash))
	}
	declaredInp, err := s.hub.HGetAll(ctx, hub.ParametricInpKey(hash))
	if err != nil {
		return nil, err
	}
	declaredOut, err := s.hub.HGetAll(ctx, hub.ParametricOutKey(hash))
	if err != nil {
		return nil, err
	}

	declaredNameOf := make(map[string]string, len(declaredInp)) // original input artefact hash -> declared name
	for n, h := range declaredInp {
		declaredNameOf[h] = n
	}

	remap := make(map[string]string) // original artefact hash -> substituted artefact hash

	for _, origOpHash := range order {
		o, err := s.ops.Get(ctx, origOpHash)
		if err != nil {
			return nil, err
		}
		f, err := s.ops.FunsieByHash(ctx, o.Funsie)
		if err != nil {
			return nil, err
		}
		substituted := make(map[string]string, len(o.Inp))
		for name, h := range o.Inp {
			switch {
			case declaredNameOf[h] != "":
				newHash, ok := newInputs[declaredNameOf[h]]
				if !ok {
					return nil, fmt.Errorf("parametric: missing new value for input %q", declaredNameOf[h])
				}
				substituted[name] = newHash
			case remap[h] != "":
				substituted[name] = remap[h]
			default:
				substituted[name] = h
			}
		}
		newOp, err := s.ops.Make(ctx, f, substituted, options.Default())
		if err != nil {
			return nil, err
		}
		for outName, origOutHash := range o.Out {
			remap[origOutHash] = newOp.Out[outName]
		}
	}

	result := make(map[string]string, len(declaredOut))
	for name, origOutHash := range declaredOut {
		h, ok := remap[origOutHash]
		if !ok {
			return nil, fmt.Errorf("parametric: output %q was not produced during recall", name)
		}
		result[name] = h
	}
	return result, nil
}

func (s *Store) resolve(ctx context.Context, nameOrHash string) (string, error) {
	if len(nameOrHash) == 40 {
		return nameOrHash, nil
	}
	h, err := s.hub.HGet(ctx, hub.ParametricNamesKey, nameOrHash)
	if err == hub.ErrNotFound {
		return nameOrHash, nil
	}
	return h, err
}

func (s *Store) producerOf(ctx context.Context, artefactHash string) (string, error) {
	a, err := s.artef.Get(ctx, artefactHash)
	if err != nil {
		return "", err
	}
	if a.Parent == "" || a.Parent == hub.RootSentinel {
		return "", fmt.Errorf("parametric: output %s is a root constant, has no producing op", hashid.Short(artefactHash))
	}
	return a.Parent, nil
}

// ancestors BFS's upward over parents/parents.subdag from roots,
// returning the visited set including roots.
func (s *Store) ancestors(ctx context.Context, roots []string) (map[string]struct{}, error) {
	seen := map[string]struct{}{}
	queue := append([]string{}, roots...)
	for _, r := range roots {
		seen[r] = struct{}{}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := s.ops.Parents(ctx, cur)
		if err != nil {
			return nil, err
		}
		subdagParents, err := s.ops.SubdagParents(ctx, cur)
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
			queue = append(queue, p)
		}
	}
	return seen, nil
}

// descendants BFS's forward from the operations consuming each input
// artefact (the artefact-dependents index), returning the visited set
// including those first-level consumers.
func (s *Store) descendants(ctx context.Context, inputArtefacts []string) (map[string]struct{}, error) {
	seen := map[string]struct{}{}
	var queue []string
	for _, a := range inputArtefacts {
		consumers, err := s.artef.Dependents(ctx, a)
		if err != nil {
			return nil, err
		}
		for _, c := range consumers {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				queue = append(queue, c)
			}
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := s.ops.Children(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			queue = append(queue, c)
		}
	}
	return seen, nil
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// topoSort is Kahn's algorithm restricted to opSet's internal
// parent/child edges.
func (s *Store) topoSort(ctx context.Context, opSet map[string]struct{}) ([]string, error) {
	indegree := make(map[string]int, len(opSet))
	children := make(map[string][]string, len(opSet))
	for o := range opSet {
		parents, err := s.ops.Parents(ctx, o)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, p := range parents {
			if _, ok := opSet[p]; ok {
				count++
				children[p] = append(children[p], o)
			}
		}
		indegree[o] = count
	}

	var ready []string
	for o, n := range indegree {
		if n == 0 {
			ready = append(ready, o)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, c := range children[cur] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(order) != len(opSet) {
		return nil, fmt.Errorf("parametric: subgraph has a cycle (got %d of %d ops)", len(order), len(opSet))
	}
	return order, nil
}
