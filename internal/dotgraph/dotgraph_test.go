package dotgraph_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/dotgraph"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/op"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/options"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
)

func TestRenderEmitsNodesAndParentChildEdges(t *testing.T) {
	ctx := context.Background()
	client := hub.NewFake()
	idx, err := hashid.NewIndex(client, 64)
	require.NoError(t, err)
	eng := storage.NewHubEngine(client)
	artef := artefact.NewStore(client, idx, eng)
	ops := op.NewStore(client, idx, artef)

	upstream, err := funsie.New(funsie.Shell, "echo one",
		map[string]codec.Kind{}, map[string]codec.Kind{"stdout": codec.Blob}, false, nil)
	require.NoError(t, err)
	parent, err := ops.Make(ctx, upstream, map[string]string{}, options.Default())
	require.NoError(t, err)

	downstream, err := funsie.New(funsie.Shell, "cat $x",
		map[string]codec.Kind{"x": codec.Blob}, map[string]codec.Kind{"stdout": codec.Blob}, false, nil)
	require.NoError(t, err)
	child, err := ops.Make(ctx, downstream, map[string]string{"x": parent.Out["stdout"]}, options.Default())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, dotgraph.Render(ctx, &buf, ops, []string{parent.Hash}))

	out := buf.String()
	require.Contains(t, out, "digraph funsies {")
	require.Contains(t, out, parent.Hash)
	require.Contains(t, out, child.Hash)
	require.Contains(t, out, parent.Hash+"\" -> \""+child.Hash)
}
