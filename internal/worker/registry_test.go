package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/worker"
)

func TestRegisterThenAliveIsTrue(t *testing.T) {
	ctx := context.Background()
	client := hub.NewFake()
	reg := worker.NewRegistry(client)

	id := worker.NewID()
	require.NoError(t, reg.Register(ctx, id))

	alive, err := reg.Alive(ctx, id)
	require.NoError(t, err)
	require.True(t, alive)
}

func TestUnregisteredWorkerIsNotAlive(t *testing.T) {
	ctx := context.Background()
	reg := worker.NewRegistry(hub.NewFake())

	alive, err := reg.Alive(ctx, "worker-ghost")
	require.NoError(t, err)
	require.False(t, alive)
}

func TestDeregisterRemovesFromRegistry(t *testing.T) {
	ctx := context.Background()
	reg := worker.NewRegistry(hub.NewFake())

	id := worker.NewID()
	require.NoError(t, reg.Register(ctx, id))
	require.NoError(t, reg.Deregister(ctx, id))

	alive, err := reg.Alive(ctx, id)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestCurrentJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := worker.NewRegistry(hub.NewFake())

	id := worker.NewID()
	require.NoError(t, reg.Register(ctx, id))

	job, err := reg.CurrentJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "", job)

	require.NoError(t, reg.SetCurrentJob(ctx, id, "op-hash-1"))
	job, err = reg.CurrentJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "op-hash-1", job)

	require.NoError(t, reg.ClearCurrentJob(ctx, id))
	job, err = reg.CurrentJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "", job)
}

func TestPingReportsHubConnectivity(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, worker.Ping(ctx, hub.NewFake()))
}
