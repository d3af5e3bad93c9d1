package omniq

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/omniqueue/omniq/job"
	"github.com/omniqueue/omniq/script"
)

// CreateOptions configures Client.Create.
type CreateOptions struct {
	// Connect describes how to reach the backing store. Ignored if
	// Store is set.
	Connect ConnectOptions

	// Store, if set, is used as-is instead of building a connection
	// from Connect. Client.Close will not close a caller-supplied
	// Store.
	Store storeClient

	// ScriptsDir overrides script.ResolveDir's automatic resolution.
	ScriptsDir string

	// TuneRuntime applies a container-aware GOMAXPROCS adjustment once
	// at creation. It never affects queue semantics.
	TuneRuntime bool
}

// Client is the top-level OmniQ facade: a connected store, a loaded
// script bundle, and the typed Ops surface built on both.
type Client struct {
	store storeClient
	ops   *Ops
	owns  bool
}

// scriptLoader adapts a redis.UniversalClient's Cmd-returning
// ScriptLoad to the plain (string, error) shape script.Loader expects.
type scriptLoader struct {
	store storeClient
}

func (l scriptLoader) ScriptLoad(ctx context.Context, src string) (string, error) {
	return l.store.ScriptLoad(ctx, src).Result()
}

// Create builds or adopts a store connection, resolves and loads the
// script bundle, and returns a ready-to-use Client.
func Create(ctx context.Context, opts CreateOptions) (*Client, error) {
	if opts.TuneRuntime {
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
			slog.Default().Info(fmt.Sprintf(format, args...))
		})); err != nil {
			slog.Default().Warn("omniq: failed to tune GOMAXPROCS", "err", err)
		}
	}

	store := opts.Store
	owns := false
	if store == nil {
		built, err := buildStoreClient(ctx, opts.Connect)
		if err != nil {
			return nil, err
		}
		store = built
		owns = true
	}

	dir := opts.ScriptsDir
	if dir == "" {
		resolved, err := script.ResolveDir()
		if err != nil {
			return nil, configError("resolving scripts directory: %v", err)
		}
		dir = resolved
	}
	bundle, err := script.Load(ctx, dir, scriptLoader{store: store})
	if err != nil {
		return nil, configError("loading script bundle: %v", err)
	}

	return &Client{store: store, ops: NewOps(store, bundle), owns: owns}, nil
}

// Close releases the store connection, if the Client built it itself.
func (c *Client) Close() error {
	if !c.owns {
		return nil
	}
	return c.store.Close()
}

// Publish enqueues payloadJSON onto queue.
func (c *Client) Publish(ctx context.Context, queue string, payloadJSON []byte, opts PublishOptions) (string, error) {
	return c.ops.Publish(ctx, queue, payloadJSON, opts)
}

// Reserve pops the next eligible job from queue under a fresh lease.
// Most callers should use Consume instead; Reserve is exposed for
// administrative tooling and tests that need direct lease control.
func (c *Client) Reserve(ctx context.Context, queue string) (*job.Record, error) {
	return c.ops.Reserve(ctx, queue, 0)
}

// Heartbeat extends the lease on an active job.
func (c *Client) Heartbeat(ctx context.Context, l job.Lease, timeoutMs int64) (int64, error) {
	return c.ops.Heartbeat(ctx, l, timeoutMs, 0)
}

// AckSuccess marks a leased job as terminally done.
func (c *Client) AckSuccess(ctx context.Context, l job.Lease) error {
	return c.ops.AckSuccess(ctx, l)
}

// AckFail marks a leased job as failed, rescheduling it or moving it
// to the failed set depending on remaining attempts.
func (c *Client) AckFail(ctx context.Context, l job.Lease, errMsg string) (AckFailResult, error) {
	return c.ops.AckFail(ctx, l, 0, errMsg)
}

// Pause sets queue's pause flag.
func (c *Client) Pause(ctx context.Context, queue string) error {
	return c.ops.Pause(ctx, queue)
}

// Resume clears queue's pause flag.
func (c *Client) Resume(ctx context.Context, queue string) error {
	return c.ops.Resume(ctx, queue)
}

// IsPaused reports whether queue is currently paused.
func (c *Client) IsPaused(ctx context.Context, queue string) (bool, error) {
	return c.ops.IsPaused(ctx, queue)
}

// RetryFailed moves one dead-lettered job back to ready.
func (c *Client) RetryFailed(ctx context.Context, queue, jobID string) error {
	return c.ops.RetryFailed(ctx, queue, jobID)
}

// RetryFailedBatch applies RetryFailed to up to 100 job ids.
func (c *Client) RetryFailedBatch(ctx context.Context, queue string, jobIDs []string) ([]BatchResult, error) {
	return c.ops.RetryFailedBatch(ctx, queue, jobIDs)
}

// RemoveJob permanently deletes a job that is not currently leased.
func (c *Client) RemoveJob(ctx context.Context, queue, jobID string) error {
	return c.ops.RemoveJob(ctx, queue, jobID)
}

// RemoveJobsBatch applies RemoveJob to up to 100 job ids.
func (c *Client) RemoveJobsBatch(ctx context.Context, queue string, jobIDs []string) ([]BatchResult, error) {
	return c.ops.RemoveJobsBatch(ctx, queue, jobIDs)
}

// ChildsInit creates a fan-in counter at key, initialized to expected.
func (c *Client) ChildsInit(ctx context.Context, key string, expected int64) error {
	return c.ops.ChildsInit(ctx, key, expected)
}

// ChildAck decrements the fan-in counter at key under the given child
// identity, returning the remaining count or -1 on any anomaly.
func (c *Client) ChildAck(ctx context.Context, key, childID string) int64 {
	return c.ops.ChildAck(ctx, key, childID)
}

// PromoteDelayed moves up to batch due delayed jobs back to ready.
// Exposed mainly for tests and administrative tooling; the consumer
// runloop already calls this on its own schedule.
func (c *Client) PromoteDelayed(ctx context.Context, queue string, batch int) (int64, error) {
	return c.ops.PromoteDelayed(ctx, queue, batch, 0)
}

// ReapExpired moves up to batch lease-expired jobs back to ready. See
// PromoteDelayed's note on the runloop already doing this.
func (c *Client) ReapExpired(ctx context.Context, queue string, batch int) (int64, error) {
	return c.ops.ReapExpired(ctx, queue, batch, 0)
}

// Consume runs the consumer runloop against queue until stop is
// requested, applying opts' defaults.
func (c *Client) Consume(ctx context.Context, queue string, handler Handler, opts ConsumeOptions) error {
	return runConsumer(ctx, c.ops, queue, handler, opts)
}
