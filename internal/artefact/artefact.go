// Package artefact implements the content-addressed value slots that flow
// between operations.
package artefact

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
)

// Status is the lifecycle state of an artefact.
type Status string

const (
	NotFound Status = "not_found"
	Deleted  Status = "deleted"
	NoData   Status = "no_data"
	Done     Status = "done"
	Const    Status = "const"
	Error    Status = "error"
	Linked   Status = "linked"
)

// Settled reports whether status is done, const, or error, i.e. whether
// the artefact carries a final value one way or another.
// This is the predicate behind the scheduler's cache and dependency
// checks.
func (s Status) Settled() bool {
	switch s {
	case Done, Const, Error:
		return true
	default:
		return false
	}
}

// Artefact is a content-addressed slot for a single value.
type Artefact struct {
	Hash   string
	Parent string // operation hash, or hub.RootSentinel
	Kind   codec.Kind
	Status Status
}

// ConstantHash computes the hash of a constant artefact from its raw
// value bytes: sha1("artefact\nconstant\n" || value). Wire format, do
// not change.
func ConstantHash(value []byte) string {
	return hashid.Sum("artefact\nconstant\n" + string(value))
}

// VariableHash computes the hash of a named output of an operation:
// sha1("artefact\nvariable\nparent:<op.hash>\nname:<name>\n"). Two
// operations with the same hash therefore share output hashes. Wire
// format, do not change.
func VariableHash(opHash, name string) string {
	return hashid.Sum(fmt.Sprintf("artefact\nvariable\nparent:%s\nname:%s\n", opHash, name))
}

// Store persists artefacts and reads their lifecycle state through the
// hub. Blob data itself is delegated to a storage.Engine rather than
// written straight into the hub, so a PutConstant call and a runner
// reading the same hash back always agree regardless of which DATA_URL
// backend is configured.
type Store struct {
	hub     hub.Client
	idx     *hashid.Index
	storage storage.Engine
}

// NewStore builds an artefact Store over client, registering new hashes in
// idx's short-hash index as they're created, and writing constant data
// through eng.
func NewStore(client hub.Client, idx *hashid.Index, eng storage.Engine) *Store {
	return &Store{hub: client, idx: idx, storage: eng}
}

// PutConstant creates (or returns, if it already exists) a const artefact
// holding value, encoded per kind. Constants are immutable from creation.
func (s *Store) PutConstant(ctx context.Context, kind codec.Kind, value codec.Value) (*Artefact, error) {
	raw, ferr := codec.Encode(kind, value)
	if ferr != nil {
		return nil, fmt.Errorf("artefact: encoding constant: %s", ferr.String())
	}
	h := ConstantHash(raw)
	exists, err := s.hub.Exists(ctx, hub.ArtefactKey(h))
	if err != nil {
		return nil, err
	}
	a := &Artefact{Hash: h, Parent: hub.RootSentinel, Kind: kind, Status: Const}
	if exists {
		return a, nil
	}
	if err := s.hub.HSet(ctx, hub.ArtefactKey(h), map[string]string{
		"kind":   string(kind),
		"status": string(Const),
		"parent": hub.RootSentinel,
	}); err != nil {
		return nil, err
	}
	if err := s.storage.Put(ctx, h, raw); err != nil {
		return nil, fmt.Errorf("artefact: writing constant data: %w", err)
	}
	if err := s.idx.Register(ctx, h); err != nil {
		return nil, err
	}
	return a, nil
}

// DeclareVariable creates a no_data artefact for a named operation output.
// Called by internal/op at operation-construction time; always idempotent
// since the hash is derived solely from (opHash, name).
func (s *Store) DeclareVariable(ctx context.Context, opHash, name string, kind codec.Kind) (*Artefact, error) {
	h := VariableHash(opHash, name)
	a := &Artefact{Hash: h, Parent: opHash, Kind: kind, Status: NoData}
	exists, err := s.hub.Exists(ctx, hub.ArtefactKey(h))
	if err != nil {
		return nil, err
	}
	if exists {
		return s.Get(ctx, h)
	}
	if err := s.hub.HSet(ctx, hub.ArtefactKey(h), map[string]string{
		"kind":   string(kind),
		"status": string(NoData),
		"parent": opHash,
	}); err != nil {
		return nil, err
	}
	if err := s.idx.Register(ctx, h); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads an artefact's metadata. Status is NotFound if the hash is
// unknown to the hub.
func (s *Store) Get(ctx context.Context, h string) (*Artefact, error) {
	fields, err := s.hub.HGetAll(ctx, hub.ArtefactKey(h))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return &Artefact{Hash: h, Status: NotFound}, nil
	}
	return &Artefact{
		Hash:   h,
		Parent: fields["parent"],
		Kind:   codec.Kind(fields["kind"]),
		Status: Status(fields["status"]),
	}, nil
}

// MarkDone transitions a no_data/linked artefact to done, after the
// producing runner has written its bytes via the storage engine.
func (s *Store) MarkDone(ctx context.Context, h string) error {
	return s.transition(ctx, h, Done)
}

// MarkError transitions an artefact to error and stores the Error record.
func (s *Store) MarkError(ctx context.Context, h string, e ferrors.Error) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.hub.Set(ctx, hub.ArtefactErrorKey(h), string(raw)); err != nil {
		return err
	}
	return s.transition(ctx, h, Error)
}

// MarkLinked redirects h to point at target, the integration mechanism
// between a sub-DAG and its enclosing DAG.
func (s *Store) MarkLinked(ctx context.Context, h, target string) error {
	if err := s.hub.Set(ctx, hub.ArtefactLinkKey(h), target); err != nil {
		return err
	}
	return s.transition(ctx, h, Linked)
}

// Reset transitions a settled artefact back to deleted. const artefacts
// reject reset: they are immutable by construction.
func (s *Store) Reset(ctx context.Context, h string) error {
	a, err := s.Get(ctx, h)
	if err != nil {
		return err
	}
	if a.Status == Const {
		return fmt.Errorf("artefact: %s is const and cannot be reset", hashid.Short(h))
	}
	if err := s.hub.Del(ctx, hub.ArtefactDataKey(h), hub.ArtefactErrorKey(h), hub.ArtefactLinkKey(h)); err != nil {
		return err
	}
	return s.transition(ctx, h, Deleted)
}

func (s *Store) transition(ctx context.Context, h string, status Status) error {
	return s.hub.HSet(ctx, hub.ArtefactKey(h), map[string]string{"status": string(status)})
}

// Link resolves a linked artefact to its redirect target.
func (s *Store) Link(ctx context.Context, h string) (string, error) {
	target, err := s.hub.Get(ctx, hub.ArtefactLinkKey(h))
	if err == hub.ErrNotFound {
		return "", fmt.Errorf("artefact: %s is not linked", hashid.Short(h))
	}
	return target, err
}

// GetError loads the Error record stored under a failed artefact.
func (s *Store) GetError(ctx context.Context, h string) (*ferrors.Error, error) {
	raw, err := s.hub.Get(ctx, hub.ArtefactErrorKey(h))
	if err == hub.ErrNotFound {
		e := ferrors.New(ferrors.NoErrorData, "no error record for "+hashid.Short(h))
		return &e, nil
	}
	if err != nil {
		return nil, err
	}
	var e ferrors.Error
	if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr != nil {
		e = ferrors.New(ferrors.ExceptionRaised, raw)
	}
	return &e, nil
}

// AddDependent records that op consumes h, maintaining the weak
// `dependents` edge. Reset does not remove this edge: it stays in place
// after the artefact's data is deleted.
func (s *Store) AddDependent(ctx context.Context, h, opHash string) error {
	return s.hub.SAdd(ctx, hub.ArtefactDependentsKey(h), opHash)
}

// Dependents lists the operations that consume h.
func (s *Store) Dependents(ctx context.Context, h string) ([]string, error) {
	return s.hub.SMembers(ctx, hub.ArtefactDependentsKey(h))
}
