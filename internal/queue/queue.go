// Package queue implements the durable FIFO job queue the scheduler
// dispatches through: at-least-once delivery, per-job visibility
// deadlines, and worker heartbeats, built on the same Redis connection as
// the hub using a list plus a deadline-scored sorted set.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

// Job is one unit of dispatch: a (DAG key, operation hash) pair the
// scheduler's Task handler consumes.
type Job struct {
	ID       string    `json:"id"`
	DAGKey   string    `json:"dag_key"`
	OpHash   string    `json:"op_hash"`
	Queued   time.Time `json:"queued"`
	Attempts int       `json:"attempts"`
}

// Queue is a named FIFO backed by the hub.
type Queue struct {
	hub hub.Client
}

// New builds a Queue over client.
func New(client hub.Client) *Queue {
	return &Queue{hub: client}
}

// Enqueue pushes job onto the back of the named queue's FIFO list.
func (q *Queue) Enqueue(ctx context.Context, queueName string, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Queued.IsZero() {
		job.Queued = time.Now()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.hub.Set(ctx, hub.QueueJobKey(job.ID), string(raw)); err != nil {
		return err
	}
	// LPUSH + RPOPLPUSH: new jobs land at the head, Dequeue pops the tail,
	// so the oldest job is always served first.
	return q.hub.LPush(ctx, hub.QueueListKey(queueName), job.ID)
}

// Dequeue pops the next job id off the FIFO and moves it to the
// in-flight processing list, recording a deadline scored by visibility so
// a crashed worker's job can be swept back onto the queue (SweepExpired).
// Returns (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, queueName, workerID string, visibility time.Duration) (*Job, error) {
	id, err := q.hub.RPopLPush(ctx, hub.QueueListKey(queueName), hub.QueueProcessingKey(queueName))
	if err == hub.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := q.hub.Get(ctx, hub.QueueJobKey(id))
	if err != nil {
		return nil, fmt.Errorf("queue: loading job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	job.Attempts++
	if err := q.touch(ctx, queueName, job, workerID, visibility); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *Queue) touch(ctx context.Context, queueName string, job Job, workerID string, visibility time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.hub.Set(ctx, hub.QueueJobKey(job.ID), string(raw)); err != nil {
		return err
	}
	if err := q.hub.Set(ctx, hub.QueueJobWorkerKey(job.ID), workerID); err != nil {
		return err
	}
	deadline := float64(time.Now().Add(visibility).Unix())
	return q.hub.ZAdd(ctx, hub.QueueDeadlinesKey(queueName), deadline, job.ID)
}

// Heartbeat extends a job's visibility deadline. The scheduler does not
// call it, so a job that runs past its visibility deadline is swept back
// onto the FIFO.
func (q *Queue) Heartbeat(ctx context.Context, queueName, jobID string, visibility time.Duration) error {
	deadline := float64(time.Now().Add(visibility).Unix())
	return q.hub.ZAdd(ctx, hub.QueueDeadlinesKey(queueName), deadline, jobID)
}

// Ack removes a completed job from the processing list and its bookkeeping
// keys (at-least-once: only an explicit Ack retires a job).
func (q *Queue) Ack(ctx context.Context, queueName, jobID string) error {
	if err := q.hub.LRem(ctx, hub.QueueProcessingKey(queueName), jobID); err != nil {
		return err
	}
	if err := q.hub.ZRem(ctx, hub.QueueDeadlinesKey(queueName), jobID); err != nil {
		return err
	}
	if err := q.hub.Del(ctx, hub.QueueJobKey(jobID), hub.QueueJobWorkerKey(jobID)); err != nil {
		return err
	}
	return nil
}

// Requeue retires job's current delivery and puts it back at the end of
// the FIFO, the path a lock-contended task takes. The contention sleep is
// the caller's responsibility; Requeue only performs the re-enqueue.
func (q *Queue) Requeue(ctx context.Context, queueName string, job Job) error {
	if err := q.Ack(ctx, queueName, job.ID); err != nil {
		return err
	}
	job.ID = "" // fresh id: avoids racing a stale deadline entry
	return q.Enqueue(ctx, queueName, job)
}

// SweepExpired finds jobs whose visibility deadline has passed (the
// worker holding them is presumed dead or stuck) and puts them back on
// the FIFO for another worker to pick up (at-least-once delivery).
// It returns the ids it requeued.
func (q *Queue) SweepExpired(ctx context.Context, queueName string) ([]string, error) {
	now := float64(time.Now().Unix())
	expired, err := q.hub.ZRangeByScore(ctx, hub.QueueDeadlinesKey(queueName), 0, now)
	if err != nil {
		return nil, err
	}
	for _, id := range expired {
		if err := q.hub.LRem(ctx, hub.QueueProcessingKey(queueName), id); err != nil {
			return nil, err
		}
		if err := q.hub.ZRem(ctx, hub.QueueDeadlinesKey(queueName), id); err != nil {
			return nil, err
		}
		if err := q.hub.Del(ctx, hub.QueueJobWorkerKey(id)); err != nil {
			return nil, err
		}
		if err := q.hub.RPush(ctx, hub.QueueListKey(queueName), id); err != nil { // tail: redeliver next
			return nil, err
		}
	}
	return expired, nil
}

// Len reports how many jobs are waiting in the FIFO.
func (q *Queue) Len(ctx context.Context, queueName string) (int64, error) {
	return q.hub.LLen(ctx, hub.QueueListKey(queueName))
}
