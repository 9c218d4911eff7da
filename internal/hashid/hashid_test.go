package hashid_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

func TestSumIsStableAndDeterministic(t *testing.T) {
	a := hashid.Sum("op|funsie-hash|file=x.txt=deadbeef")
	b := hashid.Sum("op|funsie-hash|file=x.txt=deadbeef")
	require.Equal(t, a, b)
	require.Len(t, a, 40)
}

func TestSortedPairsOrdersKeys(t *testing.T) {
	got := hashid.SortedPairs(map[string]string{"b": "2", "a": "1", "c": "3"})
	require.Equal(t, "a=1, b=2, c=3", got)
}

func TestShortTruncatesToSixChars(t *testing.T) {
	full := hashid.Sum("anything")
	require.Len(t, hashid.Short(full), hashid.ShortLen)
	require.True(t, len(full) > len(hashid.Short(full)))
}

func TestIndexResolveUniqueMatch(t *testing.T) {
	ctx := context.Background()
	c := hub.NewFake()
	idx, err := hashid.NewIndex(c, 64)
	require.NoError(t, err)

	full := hashid.Sum("artefact one")
	require.NoError(t, idx.Register(ctx, full))

	resolved, err := idx.Resolve(ctx, hashid.Short(full))
	require.NoError(t, err)
	require.Equal(t, full, resolved)
}

func TestIndexResolveFullHashSkipsLookup(t *testing.T) {
	ctx := context.Background()
	idx, err := hashid.NewIndex(hub.NewFake(), 64)
	require.NoError(t, err)

	full := hashid.Sum("never registered")
	resolved, err := idx.Resolve(ctx, full)
	require.NoError(t, err)
	require.Equal(t, full, resolved)
}

func TestIndexResolveAmbiguousReportsCandidates(t *testing.T) {
	ctx := context.Background()
	c := hub.NewFake()
	idx, err := hashid.NewIndex(c, 64)
	require.NoError(t, err)

	prefix := "abc123"
	a := prefix + fmt.Sprintf("%034d", 1)
	b := prefix + fmt.Sprintf("%034d", 2)
	require.NoError(t, idx.Register(ctx, a))
	require.NoError(t, idx.Register(ctx, b))

	_, err = idx.Resolve(ctx, prefix)
	var ambiguous *hashid.ErrAmbiguous
	require.ErrorAs(t, err, &ambiguous)
	require.Len(t, ambiguous.Candidates, 2)
}

func TestIndexResolveUnknownShortHash(t *testing.T) {
	ctx := context.Background()
	idx, err := hashid.NewIndex(hub.NewFake(), 64)
	require.NoError(t, err)

	_, err = idx.Resolve(ctx, "abcdef")
	var unknown *hashid.ErrUnknown
	require.ErrorAs(t, err, &unknown)
}
