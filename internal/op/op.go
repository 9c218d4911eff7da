// Package op implements operations (a funsie bound to concrete input
// artefact hashes) with the parent/children edges that the DAG builder
// and scheduler walk.
package op

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/options"
)

// Operation is a funsie bound to concrete input artefacts.
type Operation struct {
	Hash    string
	Funsie  string            // funsie hash
	Inp     map[string]string // input name -> artefact hash
	Out     map[string]string // output name -> artefact hash
	Options options.Options
}

// Hash computes the operation hash: sha1("op" || funsie.hash ||
// sorted_by_key("file=<k>, hash=<v>")). Wire format, do not change.
func Hash(funsieHash string, inputs map[string]string) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("op")
	b.WriteString(funsieHash)
	for _, k := range keys {
		fmt.Fprintf(&b, "file=%s, hash=%s", k, inputs[k])
	}
	return hashid.Sum(b.String())
}

// Store persists operations, their funsies, and the parent/child/dependent
// edges between them.
type Store struct {
	hub   hub.Client
	idx   *hashid.Index
	artef *artefact.Store
}

// NewStore builds an op Store over client.
func NewStore(client hub.Client, idx *hashid.Index, artef *artefact.Store) *Store {
	return &Store{hub: client, idx: idx, artef: artef}
}

// Make validates inputs against the funsie's
// declared signature, computes the operation hash, declares output
// artefacts, and persists the edges in a single logical write. Calling
// Make twice with the same funsie+inputs is idempotent: it returns the
// same operation, recomputing nothing that already exists.
func (s *Store) Make(ctx context.Context, f *funsie.Funsie, inputs map[string]string, opt options.Options) (*Operation, error) {
	if err := validateInputs(f, inputs); err != nil {
		return nil, err
	}

	h := Hash(f.Hash, inputs)
	exists, err := s.hub.Exists(ctx, hub.OperationKey(h))
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(f.Out))
	for name, kind := range f.Out {
		a, err := s.artef.DeclareVariable(ctx, h, name, kind)
		if err != nil {
			return nil, fmt.Errorf("op: declaring output %q: %w", name, err)
		}
		out[name] = a.Hash
	}

	o := &Operation{Hash: h, Funsie: f.Hash, Inp: inputs, Out: out, Options: opt}
	if exists {
		return o, nil
	}

	if err := s.persistFunsie(ctx, f); err != nil {
		return nil, err
	}

	packed, err := opt.Pack()
	if err != nil {
		return nil, err
	}
	if err := s.hub.HSet(ctx, hub.OperationKey(h), map[string]string{
		"hash":   h,
		"funsie": f.Hash,
	}); err != nil {
		return nil, err
	}
	if err := s.hub.HSet(ctx, hub.OperationInpKey(h), inputs); err != nil {
		return nil, err
	}
	if err := s.hub.HSet(ctx, hub.OperationOutKey(h), out); err != nil {
		return nil, err
	}
	if err := s.hub.Set(ctx, hub.OperationOptionsKey(h), packed); err != nil {
		return nil, err
	}

	if err := s.wireParentEdges(ctx, h, inputs); err != nil {
		return nil, err
	}
	if err := s.idx.Register(ctx, h); err != nil {
		return nil, err
	}
	return o, nil
}

// wireParentEdges records parents -> children: an edge is recorded iff
// the input artefact's parent is not root; ops with no non-root parents
// are attached to the root sentinel.
func (s *Store) wireParentEdges(ctx context.Context, opHash string, inputs map[string]string) error {
	sawParent := false
	parents := map[string]struct{}{}
	for _, inputHash := range inputs {
		a, err := s.artef.Get(ctx, inputHash)
		if err != nil {
			return err
		}
		if a.Parent == "" || a.Parent == hub.RootSentinel {
			continue
		}
		parents[a.Parent] = struct{}{}
	}
	for p := range parents {
		sawParent = true
		if err := s.hub.SAdd(ctx, hub.OperationParentsKey(opHash), p); err != nil {
			return err
		}
		if err := s.hub.SAdd(ctx, hub.OperationChildrenKey(p), opHash); err != nil {
			return err
		}
	}
	if !sawParent {
		if err := s.hub.SAdd(ctx, hub.OperationParentsKey(opHash), hub.RootSentinel); err != nil {
			return err
		}
		if err := s.hub.SAdd(ctx, hub.OperationChildrenKey(hub.RootSentinel), opHash); err != nil {
			return err
		}
	}
	for _, inputHash := range inputs {
		if err := s.artef.AddDependent(ctx, inputHash, opHash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persistFunsie(ctx context.Context, f *funsie.Funsie) error {
	exists, err := s.hub.Exists(ctx, hub.FunsieKey(f.Hash))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	tolerant := "0"
	if f.ErrorTolerant {
		tolerant = "1"
	}
	if err := s.hub.HSet(ctx, hub.FunsieKey(f.Hash), map[string]string{
		"hash":           f.Hash,
		"how":            f.How.String(),
		"what":           f.What,
		"error_tolerant": tolerant,
	}); err != nil {
		return err
	}
	inp := make(map[string]string, len(f.Inp))
	for k, v := range f.Inp {
		inp[k] = string(v)
	}
	out := make(map[string]string, len(f.Out))
	for k, v := range f.Out {
		out[k] = string(v)
	}
	if err := s.hub.HSet(ctx, hub.FunsieInpKey(f.Hash), inp); err != nil {
		return err
	}
	if err := s.hub.HSet(ctx, hub.FunsieOutKey(f.Hash), out); err != nil {
		return err
	}
	if err := s.hub.Set(ctx, hub.FunsieExtraKey(f.Hash), string(f.Extra)); err != nil {
		return err
	}
	return s.idx.Register(ctx, f.Hash)
}

func validateInputs(f *funsie.Funsie, inputs map[string]string) error {
	if len(inputs) != len(f.Inp) {
		return fmt.Errorf("op: expected %d inputs, got %d", len(f.Inp), len(inputs))
	}
	for name := range f.Inp {
		if _, ok := inputs[name]; !ok {
			return fmt.Errorf("op: missing input %q", name)
		}
	}
	for name := range inputs {
		if _, ok := f.Inp[name]; !ok {
			return fmt.Errorf("op: unexpected input %q", name)
		}
	}
	return nil
}

// Get loads an operation's metadata, inputs, outputs, and options.
func (s *Store) Get(ctx context.Context, h string) (*Operation, error) {
	fields, err := s.hub.HGetAll(ctx, hub.OperationKey(h))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("op: %s not found", hashid.Short(h))
	}
	inp, err := s.hub.HGetAll(ctx, hub.OperationInpKey(h))
	if err != nil {
		return nil, err
	}
	out, err := s.hub.HGetAll(ctx, hub.OperationOutKey(h))
	if err != nil {
		return nil, err
	}
	packed, err := s.hub.Get(ctx, hub.OperationOptionsKey(h))
	if err != nil && err != hub.ErrNotFound {
		return nil, err
	}
	opt, err := options.Unpack(packed)
	if err != nil {
		return nil, err
	}
	return &Operation{Hash: h, Funsie: fields["funsie"], Inp: inp, Out: out, Options: opt}, nil
}

// Funsie loads the funsie an operation was constructed from.
func (s *Store) Funsie(ctx context.Context, opHash string) (*funsie.Funsie, error) {
	o, err := s.Get(ctx, opHash)
	if err != nil {
		return nil, err
	}
	return s.FunsieByHash(ctx, o.Funsie)
}

// FunsieByHash loads a funsie directly by its hash.
func (s *Store) FunsieByHash(ctx context.Context, h string) (*funsie.Funsie, error) {
	fields, err := s.hub.HGetAll(ctx, hub.FunsieKey(h))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("op: funsie %s not found", hashid.Short(h))
	}
	inpRaw, err := s.hub.HGetAll(ctx, hub.FunsieInpKey(h))
	if err != nil {
		return nil, err
	}
	outRaw, err := s.hub.HGetAll(ctx, hub.FunsieOutKey(h))
	if err != nil {
		return nil, err
	}
	extra, err := s.hub.Get(ctx, hub.FunsieExtraKey(h))
	if err != nil && err != hub.ErrNotFound {
		return nil, err
	}
	inp := make(map[string]codec.Kind, len(inpRaw))
	for k, v := range inpRaw {
		inp[k] = codec.Kind(v)
	}
	out := make(map[string]codec.Kind, len(outRaw))
	for k, v := range outRaw {
		out[k] = codec.Kind(v)
	}
	how, err := funsie.ParseHow(fields["how"])
	if err != nil {
		return nil, err
	}
	return &funsie.Funsie{
		Hash:          h,
		How:           how,
		What:          fields["what"],
		Inp:           inp,
		Out:           out,
		ErrorTolerant: fields["error_tolerant"] == "1",
		Extra:         []byte(extra),
	}, nil
}

// Parents returns the set of parent operation hashes, or the root
// sentinel alone for an operation with no non-root parents.
func (s *Store) Parents(ctx context.Context, opHash string) ([]string, error) {
	return s.hub.SMembers(ctx, hub.OperationParentsKey(opHash))
}

// SubdagParents returns the set of sub-DAG parent edges recorded for an
// operation.
func (s *Store) SubdagParents(ctx context.Context, opHash string) ([]string, error) {
	return s.hub.SMembers(ctx, hub.OperationSubdagParentsKey(opHash))
}

// AddSubdagParent records a parents.subdag edge from child to parent, used
// when a sub-DAG's operations are spliced into the enclosing closure.
func (s *Store) AddSubdagParent(ctx context.Context, childOp, parentOp string) error {
	return s.hub.SAdd(ctx, hub.OperationSubdagParentsKey(childOp), parentOp)
}

// Children returns the operations that consume any output of opHash.
func (s *Store) Children(ctx context.Context, opHash string) ([]string, error) {
	return s.hub.SMembers(ctx, hub.OperationChildrenKey(opHash))
}

// Cached reports whether every output artefact of opHash has settled,
// meaning the operation need not re-execute.
func (s *Store) Cached(ctx context.Context, opHash string) (bool, error) {
	o, err := s.Get(ctx, opHash)
	if err != nil {
		return false, err
	}
	for _, outHash := range o.Out {
		a, err := s.artef.Get(ctx, outHash)
		if err != nil {
			return false, err
		}
		if !a.Status.Settled() && a.Status != artefact.Linked {
			return false, nil
		}
	}
	return true, nil
}

// UnmetDependencies reports whether any input artefact has not yet
// settled.
func (s *Store) UnmetDependencies(ctx context.Context, o *Operation) (bool, error) {
	for _, inHash := range o.Inp {
		a, err := s.artef.Get(ctx, inHash)
		if err != nil {
			return false, err
		}
		if !a.Status.Settled() && a.Status != artefact.Linked {
			return true, nil
		}
	}
	return false, nil
}

// Owner key helpers: the per-operation mutex giving exactly-one-executor
// semantics.

// TryAcquire implements the SET-if-absent lock acquisition.
func (s *Store) TryAcquire(ctx context.Context, opHash, workerID string, ttl time.Duration) (bool, error) {
	return s.hub.SetNX(ctx, hub.OperationOwnerKey(opHash), workerID, ttl)
}

// Owner returns the current lock holder, or "" if unowned.
func (s *Store) Owner(ctx context.Context, opHash string) (string, error) {
	v, err := s.hub.Get(ctx, hub.OperationOwnerKey(opHash))
	if err == hub.ErrNotFound {
		return "", nil
	}
	return v, err
}

// Steal forcibly sets the owner to workerID regardless of the prior
// value, used by the stale-lock recovery path.
func (s *Store) Steal(ctx context.Context, opHash, workerID string) error {
	return s.hub.Set(ctx, hub.OperationOwnerKey(opHash), workerID)
}

// Release deletes the owner key unconditionally; it runs on every task
// exit path.
func (s *Store) Release(ctx context.Context, opHash string) error {
	return s.hub.Del(ctx, hub.OperationOwnerKey(opHash))
}
