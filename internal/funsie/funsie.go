// Package funsie implements the immutable callable description every
// operation is built from, and the process-wide registry that stands in
// for marshalling a callable across process boundaries.
package funsie

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
)

// How identifies the execution strategy a funsie carries out. The integer
// values are part of the funsie hash's canonical string and MUST NOT change
// once assigned.
type How int

const (
	Shell  How = 0
	Func   How = 1
	Subdag How = 2
)

func (h How) String() string {
	switch h {
	case Shell:
		return "shell"
	case Func:
		return "python" // persisted wire value; renaming it orphans stored funsies
	case Subdag:
		return "subdag"
	default:
		return fmt.Sprintf("how(%d)", int(h))
	}
}

// ParseHow maps a funsie's stored "how" string back to its How value.
func ParseHow(s string) (How, error) {
	switch s {
	case "shell":
		return Shell, nil
	case "python":
		return Func, nil
	case "subdag":
		return Subdag, nil
	default:
		return 0, fmt.Errorf("funsie: unknown how %q", s)
	}
}

// Funsie is the immutable description of a unit of computation: what it
// needs, what it produces, and how to run it. The hash covers only `how`,
// `what`, `inp`, `out`, and `error_tolerant`, never `extra`.
type Funsie struct {
	Hash          string
	How           How
	What          string
	Inp           map[string]codec.Kind
	Out           map[string]codec.Kind
	ErrorTolerant bool
	// Extra is opaque side data excluded from hashing: packed shell command
	// lines and environment for How==Shell. The Func and Subdag builders
	// leave it empty: their registry key travels in What.
	Extra []byte
}

// kindLines renders a kind map as "input:<k> -> <kind>\n" /
// "output:<k> -> <kind>\n" lines, sorted by key.
func kindLines(prefix string, m map[string]codec.Kind) string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%s -> %s\n", prefix, k, m[k])
	}
	return b.String()
}

// canonical builds the funsie's hash input. This is wire format: changing
// it invalidates every hash in an existing hub.
func canonical(how How, what string, inp, out map[string]codec.Kind, errorTolerant bool) string {
	var b strings.Builder
	b.WriteString("funsie")
	fmt.Fprintf(&b, "how=%d\nwhat=%s\n", int(how), what)
	b.WriteString(kindLines("input", inp))
	b.WriteString(kindLines("output", out))
	tolerant := 0
	if errorTolerant {
		tolerant = 1
	}
	fmt.Fprintf(&b, "error tolerant:%d\n", tolerant)
	return b.String()
}

// New builds a Funsie, computing its hash from the hashed fields. extra is
// stored verbatim and excluded from the hash.
func New(how How, what string, inp, out map[string]codec.Kind, errorTolerant bool, extra []byte) (*Funsie, error) {
	for name, k := range inp {
		if !codec.Valid(k) {
			return nil, fmt.Errorf("funsie: invalid input kind %q for %q", k, name)
		}
	}
	for name, k := range out {
		if !codec.Valid(k) {
			return nil, fmt.Errorf("funsie: invalid output kind %q for %q", k, name)
		}
	}
	h := hashid.Sum(canonical(how, what, inp, out, errorTolerant))
	return &Funsie{
		Hash:          h,
		How:           how,
		What:          what,
		Inp:           inp,
		Out:           out,
		ErrorTolerant: errorTolerant,
		Extra:         extra,
	}, nil
}
