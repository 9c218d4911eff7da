// Package worker implements worker-process identity and liveness:
// registration and heartbeats so the scheduler's stale-lock check has
// something to consult when deciding whether a lock holder is gone.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

// HeartbeatInterval is how often a live worker refreshes its registry
// entry; StaleAfter is the grace period the scheduler waits before
// treating a worker as gone.
const (
	HeartbeatInterval = 5 * time.Second
	StaleAfter        = 3 * HeartbeatInterval
)

// Registry tracks live workers in the hub. Stale-lock recovery needs an
// answer to "is the holder worker still around"; this set plus the
// per-worker heartbeat key is that answer.
type Registry struct {
	hub hub.Client
}

// NewRegistry builds a Registry over client.
func NewRegistry(client hub.Client) *Registry {
	return &Registry{hub: client}
}

// NewID mints a random, process-unique worker id.
func NewID() string { return "worker-" + uuid.NewString() }

// Register adds id to the live-worker set and writes its first heartbeat.
func (r *Registry) Register(ctx context.Context, id string) error {
	if err := r.hub.SAdd(ctx, hub.WorkerRegistryKey, id); err != nil {
		return err
	}
	return r.Heartbeat(ctx, id)
}

// Heartbeat refreshes id's liveness timestamp.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	return r.hub.Set(ctx, hub.WorkerHeartbeatKey(id), time.Now().Format(time.RFC3339Nano))
}

// Deregister removes id from the live-worker set on clean shutdown.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	if err := r.hub.SRem(ctx, hub.WorkerRegistryKey, id); err != nil {
		return err
	}
	return r.hub.Del(ctx, hub.WorkerHeartbeatKey(id), hub.WorkerJobKey(id))
}

// SetCurrentJob records the op hash id is currently executing, so a
// newcomer can tell whether a lock holder is busy with a different job
// versus genuinely working the op it's contending for.
func (r *Registry) SetCurrentJob(ctx context.Context, id, opHash string) error {
	return r.hub.Set(ctx, hub.WorkerJobKey(id), opHash)
}

// ClearCurrentJob clears the current-job marker once a task finishes.
func (r *Registry) ClearCurrentJob(ctx context.Context, id string) error {
	return r.hub.Del(ctx, hub.WorkerJobKey(id))
}

// CurrentJob returns the op hash id last recorded itself as running, or
// "" if none.
func (r *Registry) CurrentJob(ctx context.Context, id string) (string, error) {
	v, err := r.hub.Get(ctx, hub.WorkerJobKey(id))
	if err == hub.ErrNotFound {
		return "", nil
	}
	return v, err
}

// Alive reports whether id's most recent heartbeat is within StaleAfter.
// A worker absent from the registry entirely also counts as not alive.
func (r *Registry) Alive(ctx context.Context, id string) (bool, error) {
	isMember, err := r.hub.SIsMember(ctx, hub.WorkerRegistryKey, id)
	if err != nil || !isMember {
		return false, err
	}
	raw, err := r.hub.Get(ctx, hub.WorkerHeartbeatKey(id))
	if err == hub.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, nil
	}
	return time.Since(ts) < StaleAfter, nil
}

// Ping checks hub connectivity through client.
func Ping(ctx context.Context, client hub.Client) error {
	return client.Ping(ctx)
}
