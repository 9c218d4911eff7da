// Package hashid implements the canonical SHA-1 hashing every entity's
// identity is built on, and the short-hash index used for display and CLI
// convenience.
package hashid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

// ShortLen is the number of hex characters in a short hash.
const ShortLen = 6

// Sum returns the SHA-1 hex digest of a canonical string. Every hash in the
// system is built by concatenating a fixed preamble with sorted key=value
// pairs and hashing the resulting string; callers build that string and
// call Sum once, so the canonical formats live next to their callers
// (funsie, artefact, op, parametric) rather than here.
func Sum(canonical string) string {
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// SortedPairs renders a map as "k1=v1, k2=v2" with keys sorted, the shape
// operation input bindings hash under.
func SortedPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, m[k])
	}
	return strings.Join(parts, ", ")
}

// Short returns the display short hash for a full hash.
func Short(full string) string {
	if len(full) < ShortLen {
		return full
	}
	return full[:ShortLen]
}

// Index resolves short hashes to full hashes via the hub's `hash.index`
// sorted set, cached in-process with an LRU so repeated resolutions of
// the same short hash within one process skip the round trip.
type Index struct {
	hub   hub.Client
	cache *lru.Cache[string, []string]
}

// NewIndex builds an Index backed by client, caching up to size short-hash
// resolutions.
func NewIndex(client hub.Client, size int) (*Index, error) {
	c, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &Index{hub: client, cache: c}, nil
}

// Register adds full to the hash index, making it resolvable by its short
// prefix. Called whenever a new artefact, funsie, operation, or parametric
// hash is minted.
func (idx *Index) Register(ctx context.Context, full string) error {
	return idx.hub.ZAdd(ctx, hub.HashIndexKey, 0, full)
}

// ErrAmbiguous is returned when a short hash has more than one candidate;
// the caller must disambiguate with more characters rather than have one
// picked silently.
type ErrAmbiguous struct {
	Short      string
	Candidates []string
}

func (e *ErrAmbiguous) Error() string {
	return fmt.Sprintf("short hash %q is ambiguous: %d candidates", e.Short, len(e.Candidates))
}

// ErrUnknown is returned when no hash shares the given short prefix.
type ErrUnknown struct{ Short string }

func (e *ErrUnknown) Error() string { return fmt.Sprintf("unknown short hash %q", e.Short) }

// Resolve maps a short or full hash to its unique full hash, consulting the
// in-process cache before the hub. A full 40-char hex string is returned
// unchanged without a lookup.
func (idx *Index) Resolve(ctx context.Context, shortOrFull string) (string, error) {
	if len(shortOrFull) == 40 && isHex(shortOrFull) {
		return shortOrFull, nil
	}
	if cached, ok := idx.cache.Get(shortOrFull); ok {
		return uniqueOrError(shortOrFull, cached)
	}

	min := "[" + shortOrFull
	max := "[" + shortOrFull + "\xff"
	candidates, err := idx.hub.ZRangeByScoreLex(ctx, hub.HashIndexKey, min, max)
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.HasPrefix(c, shortOrFull) {
			matches = append(matches, c)
		}
	}
	idx.cache.Add(shortOrFull, matches)
	return uniqueOrError(shortOrFull, matches)
}

func uniqueOrError(short string, matches []string) (string, error) {
	switch len(matches) {
	case 0:
		return "", &ErrUnknown{Short: short}
	case 1:
		return matches[0], nil
	default:
		return "", &ErrAmbiguous{Short: short, Candidates: matches}
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
