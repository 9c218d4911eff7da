// Package options implements the runtime-only knobs an operation carries:
// queue, timeouts, evaluate-flag, TTLs. None of these fields are part of
// any hash; they are read fresh by the scheduler on every dispatch. The
// blob is stored by the first Make of an operation hash; a later Make of
// the same operation with different options leaves it unchanged.
package options

import (
	"encoding/json"
	"time"
)

// Options are packed as JSON and stored under operations:<hash>:options.
// JSON keeps the blob forward compatible: a field added later reads back
// as its zero value under an older writer.
type Options struct {
	// Queue names the job queue this operation's task is dispatched on.
	Queue string `json:"queue,omitempty"`
	// Timeout bounds the wall-clock duration of a single task attempt;
	// zero means the worker's default timeout applies.
	Timeout time.Duration `json:"timeout,omitempty"`
	// TTL is stored with the operation's options. The queue does not read
	// it: a queued job never expires undelivered.
	TTL time.Duration `json:"ttl,omitempty"`
	// Evaluate, when false, makes the task fail fast without running the
	// funsie at all, so a DAG can be built and inspected without running.
	Evaluate bool `json:"evaluate"`
}

// Default returns the Options new operations get when the caller doesn't
// override anything: evaluate the funsie, no timeout, no TTL, default
// queue.
func Default() Options {
	return Options{Queue: "default", Evaluate: true}
}

// Pack serializes o to the JSON blob stored at operations:<hash>:options.
func (o Options) Pack() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unpack parses the options blob written by Pack. An empty string (no
// options ever stored) yields Default().
func Unpack(packed string) (Options, error) {
	if packed == "" {
		return Default(), nil
	}
	var o Options
	if err := json.Unmarshal([]byte(packed), &o); err != nil {
		return Options{}, err
	}
	return o, nil
}
