package omniq

import "context"

// Exec is the thin facade passed to a consumer's handler. It exposes
// only the operations a handler is allowed to call directly: it never
// carries a lease token, so a handler cannot forge heartbeat/ack calls
// for a job it was not given.
type Exec struct {
	ops            *Ops
	defaultChildID string
}

// newExec builds the handler-facing facade for one reserved job.
func newExec(ops *Ops, defaultChildID string) *Exec {
	return &Exec{ops: ops, defaultChildID: defaultChildID}
}

// Publish enqueues a new job, identical to Client.Publish.
func (e *Exec) Publish(ctx context.Context, queue string, payloadJSON []byte, opts PublishOptions) (string, error) {
	return e.ops.Publish(ctx, queue, payloadJSON, opts)
}

// Pause sets queue's pause flag.
func (e *Exec) Pause(ctx context.Context, queue string) error {
	return e.ops.Pause(ctx, queue)
}

// Resume clears queue's pause flag.
func (e *Exec) Resume(ctx context.Context, queue string) error {
	return e.ops.Resume(ctx, queue)
}

// IsPaused reports whether queue is currently paused.
func (e *Exec) IsPaused(ctx context.Context, queue string) (bool, error) {
	return e.ops.IsPaused(ctx, queue)
}

// ChildsInit creates a fan-in counter at key, initialized to expected.
func (e *Exec) ChildsInit(ctx context.Context, key string, expected int64) error {
	return e.ops.ChildsInit(ctx, key, expected)
}

// ChildAck decrements the fan-in counter at key, identifying this
// handler's own contribution as childID. An empty childID defaults to
// the handling job's own id; if both are empty, ChildAck fails
// validation rather than silently acking under an empty identity.
//
// A non-validation failure (transport error, missing or exhausted
// counter) is swallowed per Ops.ChildAck and reported as -1, nil.
func (e *Exec) ChildAck(ctx context.Context, key string, childID string) (int64, error) {
	id := childID
	if id == "" {
		id = e.defaultChildID
	}
	if id == "" {
		return 0, validationError("child_ack: both child_id and the job's default child id are empty")
	}
	return e.ops.ChildAck(ctx, key, id), nil
}
