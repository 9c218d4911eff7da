// Package hub defines the key-value store contract the funsies engine is
// built on (the "hub") and the key layout every other package writes
// under. The hub must provide strings, hashes, sets, sorted sets, lists,
// atomic counters and SETNX; it is backed here by Redis, whose data model
// is exactly that set of primitives.
package hub

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HGet-style reads when the key is absent.
// It is the hub-layer sentinel; ferrors.Error is the artefact-data-layer
// equivalent built on top of it.
var ErrNotFound = errors.New("hub: key not found")

// Client is the minimal surface the rest of the engine needs from the hub.
// All methods are safe for concurrent use by multiple callers (workers,
// CLI processes) the way a shared Redis connection is.
type Client interface {
	// Strings
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// SETNX-based locking
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Hashes
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted sets (used by the short-hash index and the job queue's
	// processing set, scored by deadline)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZRangeByScoreLex(ctx context.Context, key, min, max string) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Lists (blob blocks, queue FIFOs)
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LPush(ctx context.Context, key string, values ...string) error
	RPopLPush(ctx context.Context, source, dest string) (string, error)
	LRem(ctx context.Context, key string, value string) error
	LLen(ctx context.Context, key string) (int64, error)

	// Atomic counters
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// HIncrBy atomically increments a hash field, the primitive the
	// scheduler uses to decrement a DAG's per-op remaining-parents
	// counter: only the worker that observes zero enqueues the dependent.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping checks hub connectivity (New calls it once on connect).
	Ping(ctx context.Context) error
}

// Key builders below define the hub layout. These are wire format:
// renaming a key orphans existing state.

func ArtefactKey(hash string) string { return "artefacts:" + hash }
func ArtefactStatusKey(hash string) string { return "artefacts:" + hash + ":status" }
func ArtefactDataKey(hash string) string { return "artefacts:" + hash + ":data" }
func ArtefactErrorKey(hash string) string { return "artefacts:" + hash + ":error" }
func ArtefactDependentsKey(hash string) string { return "artefacts:" + hash + ":dependents" }
func ArtefactLinkKey(hash string) string { return "artefacts:" + hash + ":link" }

func FunsieKey(hash string) string { return "funsies:" + hash }
func FunsieInpKey(hash string) string { return "funsies:" + hash + ":inp" }
func FunsieOutKey(hash string) string { return "funsies:" + hash + ":out" }
func FunsieExtraKey(hash string) string { return "funsies:" + hash + ":extra" }

func OperationKey(hash string) string { return "operations:" + hash }
func OperationInpKey(hash string) string { return "operations:" + hash + ":inp" }
func OperationOutKey(hash string) string { return "operations:" + hash + ":out" }
func OperationOptionsKey(hash string) string { return "operations:" + hash + ":options" }
func OperationParentsKey(hash string) string { return "operations:" + hash + ":parents" }
func OperationSubdagParentsKey(hash string) string {
	return "operations:" + hash + ":parents.subdag"
}
func OperationChildrenKey(hash string) string { return "operations:" + hash + ":children" }
func OperationOwnerKey(hash string) string { return "operations:" + hash + ":owner" }

func DAGOperationsKey(dagKey string) string { return "dag.operations:" + dagKey }
func DAGStatusKey(dagKey string) string { return "dag.status:" + dagKey }
func DAGTerminatorsKey(dagKey string) string { return "dag.terminators:" + dagKey }

const DAGIndexKey = "dag.index"
const HashIndexKey = "hash.index"

func ParametricKey(hash string) string { return "parametric:" + hash }
func ParametricInpKey(hash string) string { return "parametric:" + hash + ":inp" }
func ParametricOutKey(hash string) string { return "parametric:" + hash + ":out" }
func ParametricNameKey(hash string) string { return "parametric:" + hash + ":name" }

const ParametricNamesKey = "parametric:names"

// Queue keys back internal/queue's durable FIFO: at-least-once delivery,
// per-job visibility deadlines, identifiable workers.

func QueueListKey(name string) string { return "queue:" + name }
func QueueProcessingKey(name string) string { return "queue:" + name + ":processing" }
func QueueDeadlinesKey(name string) string { return "queue:" + name + ":deadlines" }
func QueueJobKey(id string) string { return "queue:job:" + id }
func QueueJobWorkerKey(id string) string { return "queue:job:" + id + ":worker" }

// WorkerRegistryKey is the set of live worker IDs, refreshed by heartbeat
// and consulted by the scheduler's stale-lock check.
const WorkerRegistryKey = "workers"

func WorkerHeartbeatKey(id string) string { return "workers:" + id + ":heartbeat" }
func WorkerJobKey(id string) string { return "workers:" + id + ":job" }

// RootSentinel is the sentinel parent/ancestor value for constants,
// session inputs, and operations with no non-root parents.
const RootSentinel = "root"
