// Package dotgraph renders operation graphs as DOT source for the `graph`
// CLI command. The textual format is written directly; rendering to an
// image is left to the graphviz binary.
package dotgraph

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
)

// Render writes a DOT digraph whose nodes are operations (labeled by their
// short hash and how-kind) and whose edges are parent -> child relations,
// walked from each of roots via op.Store.Children.
func Render(ctx context.Context, w io.Writer, ops *op.Store, roots []string) error {
	visited := map[string]struct{}{}
	edges := map[[2]string]struct{}{}
	queue := append([]string{}, roots...)
	for _, r := range roots {
		visited[r] = struct{}{}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := ops.Children(ctx, cur)
		if err != nil {
			return err
		}
		for _, c := range children {
			edges[[2]string{cur, c}] = struct{}{}
			if _, ok := visited[c]; !ok {
				visited[c] = struct{}{}
				queue = append(queue, c)
			}
		}
	}

	fmt.Fprintln(w, "digraph funsies {")
	nodes := make([]string, 0, len(visited))
	for n := range visited {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		label := hashid.Short(n)
		if n == hub.RootSentinel {
			label = "root"
		} else if o, err := ops.Get(ctx, n); err == nil {
			if f, err := ops.FunsieByHash(ctx, o.Funsie); err == nil {
				label = fmt.Sprintf("%s\\n%s", hashid.Short(n), f.How)
			}
		}
		fmt.Fprintf(w, "  %q [label=%q];\n", n, label)
	}

	edgeList := make([][2]string, 0, len(edges))
	for e := range edges {
		edgeList = append(edgeList, e)
	}
	sort.Slice(edgeList, func(i, j int) bool {
		if edgeList[i][0] != edgeList[j][0] {
			return edgeList[i][0] < edgeList[j][0]
		}
		return edgeList[i][1] < edgeList[j][1]
	})
	for _, e := range edgeList {
		fmt.Fprintf(w, "  %q -> %q;\n", e[0], e[1])
	}
	fmt.Fprintln(w, "}")
	return nil
}
