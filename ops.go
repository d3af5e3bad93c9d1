package omniq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/omniqueue/omniq/job"
	"github.com/omniqueue/omniq/key"
	"github.com/omniqueue/omniq/payload"
	"github.com/omniqueue/omniq/script"
)

// maxBatchSize bounds how many job ids retry_failed_batch and
// remove_jobs_batch will accept in a single call.
const maxBatchSize = 100

// noscriptMu is the process-wide lock guarding NOSCRIPT recovery.
//
// Its only job is to stop a thundering herd of EVAL calls immediately
// after a store restart flushes the script cache; normal-path EVALSHA
// never touches it.
var noscriptMu sync.Mutex

// Ops is the typed operation surface: one method per named script,
// argument marshalling, NOSCRIPT-tolerant invocation, and strict reply
// parsing.
type Ops struct {
	store  storeClient
	bundle *script.Bundle
	ids    *idGen
}

// NewOps builds an Ops layer over an already-loaded script Bundle.
func NewOps(store storeClient, bundle *script.Bundle) *Ops {
	return &Ops{store: store, bundle: bundle, ids: newIDGen()}
}

// invoke runs the named script with a single declared key and
// positional args, retrying once via EVAL if the store reports
// NOSCRIPT (e.g. after FLUSHALL/restart evicted the script cache).
func (o *Ops) invoke(ctx context.Context, name string, keyArg string, args ...any) (any, error) {
	entry, ok := o.bundle.Get(name)
	if !ok {
		return nil, configError("script %q was not loaded", name)
	}
	reply, err := o.store.EvalSha(ctx, entry.SHA, []string{keyArg}, args...).Result()
	if err == nil {
		return reply, nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "noscript") {
		return nil, err
	}
	noscriptMu.Lock()
	defer noscriptMu.Unlock()
	return o.store.Eval(ctx, entry.Src, []string{keyArg}, args...).Result()
}

// --- reply decoding helpers -------------------------------------------------

func asSlice(reply any) ([]any, bool) {
	s, ok := reply.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func discriminant(op string, reply any) (string, []any, error) {
	s, ok := asSlice(reply)
	if !ok || len(s) == 0 {
		return "", nil, &ProtocolError{Op: op, Reply: reply}
	}
	d, ok := asString(s[0])
	if !ok {
		return "", nil, &ProtocolError{Op: op, Reply: reply}
	}
	return d, s, nil
}

func scriptErrorFrom(op string, parts []any) error {
	reason := "UNKNOWN"
	if len(parts) > 1 {
		if r, ok := asString(parts[1]); ok {
			reason = r
		}
	}
	return scriptErr(op, reason)
}

// --- publish -----------------------------------------------------------------

// PublishOptions carries a job's optional attributes. Zero values
// trigger the documented defaults.
type PublishOptions struct {
	JobID         string
	MaxAttempts   int
	TimeoutMs     int64
	BackoffMs     int64
	DueMs         int64
	GID           string
	GroupLimit    int
	NowMsOverride int64
}

func (o PublishOptions) withDefaults() PublishOptions {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.TimeoutMs == 0 {
		o.TimeoutMs = 30_000
	}
	if o.BackoffMs == 0 {
		o.BackoffMs = 5_000
	}
	return o
}

// Publish enqueues payloadJSON (which must decode to a JSON object or
// array) onto queue, applying defaults for any zero-valued option.
func (o *Ops) Publish(ctx context.Context, queue string, payloadJSON []byte, opts PublishOptions) (string, error) {
	if err := payload.ValidateForPublish(payloadJSON); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	opts = opts.withDefaults()
	jobID := opts.JobID
	if jobID == "" {
		jobID = o.ids.next()
	}
	reply, err := o.invoke(ctx, "enqueue", key.QueueAnchor(queue),
		jobID,
		string(payloadJSON),
		strconv.Itoa(opts.MaxAttempts),
		strconv.FormatInt(opts.TimeoutMs, 10),
		strconv.FormatInt(opts.BackoffMs, 10),
		strconv.FormatInt(opts.DueMs, 10),
		opts.GID,
		strconv.Itoa(opts.GroupLimit),
		strconv.FormatInt(opts.NowMsOverride, 10),
	)
	if err != nil {
		return "", err
	}
	d, parts, perr := discriminant("enqueue", reply)
	if perr != nil {
		return "", perr
	}
	if d != "OK" {
		return "", scriptErrorFrom("enqueue", parts)
	}
	id, _ := asString(parts[1])
	return id, nil
}

// --- reserve -----------------------------------------------------------------

// Paused is the sentinel error Reserve returns when the queue is
// currently paused.
var Paused = fmt.Errorf("omniq: queue paused")

// Reserve pops the next eligible job, if any, stamping a fresh lease.
//
// A nil Record with a nil error means the queue was empty. A nil
// Record with err == Paused means the queue is paused.
func (o *Ops) Reserve(ctx context.Context, queue string, nowMsOverride int64) (*job.Record, error) {
	leaseToken := uuid.NewString()
	reply, err := o.invoke(ctx, "reserve", key.QueueAnchor(queue),
		leaseToken, strconv.FormatInt(nowMsOverride, 10))
	if err != nil {
		return nil, err
	}
	d, parts, perr := discriminant("reserve", reply)
	if perr != nil {
		return nil, perr
	}
	switch d {
	case "EMPTY":
		return nil, nil
	case "PAUSED":
		return nil, Paused
	case "JOB":
		if len(parts) < 7 {
			return nil, &ProtocolError{Op: "reserve", Reply: reply}
		}
		id, _ := asString(parts[1])
		rawPayload, _ := asString(parts[2])
		lockUntil, _ := asInt(parts[3])
		attempt, _ := asInt(parts[4])
		gid, _ := asString(parts[5])
		token, _ := asString(parts[6])
		return &job.Record{
			ID:          id,
			Queue:       queue,
			PayloadRaw:  []byte(rawPayload),
			Payload:     payload.Parse([]byte(rawPayload)),
			LockUntilMs: lockUntil,
			Attempt:     int(attempt),
			GID:         gid,
			LeaseToken:  token,
		}, nil
	default:
		return nil, &ProtocolError{Op: "reserve", Reply: reply}
	}
}

// --- heartbeat / ack ---------------------------------------------------------

// Heartbeat extends the lease on an active job, returning the new
// lock_until_ms on success.
func (o *Ops) Heartbeat(ctx context.Context, l job.Lease, timeoutMs int64, nowMsOverride int64) (int64, error) {
	reply, err := o.invoke(ctx, "heartbeat", key.QueueAnchor(l.Queue),
		l.ID, l.LeaseToken, strconv.FormatInt(timeoutMs, 10), strconv.FormatInt(nowMsOverride, 10))
	if err != nil {
		return 0, err
	}
	d, parts, perr := discriminant("heartbeat", reply)
	if perr != nil {
		return 0, perr
	}
	if d != "OK" {
		return 0, scriptErrorFrom("heartbeat", parts)
	}
	newLock, _ := asInt(parts[1])
	return newLock, nil
}

// AckSuccess marks a leased job as terminally done.
func (o *Ops) AckSuccess(ctx context.Context, l job.Lease) error {
	reply, err := o.invoke(ctx, "ack_success", key.QueueAnchor(l.Queue), l.ID, l.LeaseToken)
	if err != nil {
		return err
	}
	d, parts, perr := discriminant("ack_success", reply)
	if perr != nil {
		return perr
	}
	if d != "OK" {
		return scriptErrorFrom("ack_success", parts)
	}
	return nil
}

// AckFailResult reports what happened to a job after a failed handler
// invocation: either it was rescheduled (Retry=true, DueMs set) or it
// moved to the dead-letter set (Retry=false).
type AckFailResult struct {
	Retry bool
	DueMs int64
}

// AckFail marks a leased job as failed, rescheduling it or moving it
// to the failed set depending on remaining attempts.
func (o *Ops) AckFail(ctx context.Context, l job.Lease, nowMsOverride int64, errMsg string) (AckFailResult, error) {
	reply, err := o.invoke(ctx, "ack_fail", key.QueueAnchor(l.Queue),
		l.ID, l.LeaseToken, strconv.FormatInt(nowMsOverride, 10), errMsg)
	if err != nil {
		return AckFailResult{}, err
	}
	d, parts, perr := discriminant("ack_fail", reply)
	if perr != nil {
		return AckFailResult{}, perr
	}
	switch d {
	case "RETRY":
		due, _ := asInt(parts[1])
		return AckFailResult{Retry: true, DueMs: due}, nil
	case "FAILED":
		return AckFailResult{Retry: false}, nil
	default:
		return AckFailResult{}, scriptErrorFrom("ack_fail", parts)
	}
}

// --- maintenance --------------------------------------------------------------

// PromoteDelayed moves up to batch due delayed jobs back into their
// ready lane, returning how many were moved.
func (o *Ops) PromoteDelayed(ctx context.Context, queue string, batch int, nowMsOverride int64) (int64, error) {
	reply, err := o.invoke(ctx, "promote_delayed", key.QueueAnchor(queue),
		strconv.Itoa(batch), strconv.FormatInt(nowMsOverride, 10))
	if err != nil {
		return 0, err
	}
	d, parts, perr := discriminant("promote_delayed", reply)
	if perr != nil {
		return 0, perr
	}
	if d != "OK" {
		return 0, &ProtocolError{Op: "promote_delayed", Reply: reply}
	}
	n, _ := asInt(parts[1])
	return n, nil
}

// ReapExpired moves up to batch jobs whose lease has expired back into
// their ready lane, returning how many were reaped.
func (o *Ops) ReapExpired(ctx context.Context, queue string, batch int, nowMsOverride int64) (int64, error) {
	reply, err := o.invoke(ctx, "reap_expired", key.QueueAnchor(queue),
		strconv.Itoa(batch), strconv.FormatInt(nowMsOverride, 10))
	if err != nil {
		return 0, err
	}
	d, parts, perr := discriminant("reap_expired", reply)
	if perr != nil {
		return 0, perr
	}
	if d != "OK" {
		return 0, &ProtocolError{Op: "reap_expired", Reply: reply}
	}
	n, _ := asInt(parts[1])
	return n, nil
}

// Pause sets a queue's pause flag. Never moves jobs, never aborts a
// leased job (spec invariant 4).
func (o *Ops) Pause(ctx context.Context, queue string) error {
	_, err := o.invoke(ctx, "pause", key.QueueAnchor(queue))
	return err
}

// Resume clears a queue's pause flag.
func (o *Ops) Resume(ctx context.Context, queue string) error {
	_, err := o.invoke(ctx, "resume", key.QueueAnchor(queue))
	return err
}

// RetryFailed moves one job out of the dead-letter set back to ready.
func (o *Ops) RetryFailed(ctx context.Context, queue, jobID string) error {
	reply, err := o.invoke(ctx, "retry_failed", key.QueueAnchor(queue), jobID)
	if err != nil {
		return err
	}
	d, parts, perr := discriminant("retry_failed", reply)
	if perr != nil {
		return perr
	}
	if d != "OK" {
		return scriptErrorFrom("retry_failed", parts)
	}
	return nil
}

// BatchResult is one element of a retry/remove batch reply.
type BatchResult struct {
	JobID  string
	OK     bool
	Reason string
}

func parseBatchReply(op string, reply any) ([]BatchResult, error) {
	s, ok := asSlice(reply)
	if !ok {
		return nil, &ProtocolError{Op: op, Reply: reply}
	}
	var out []BatchResult
	for i := 0; i < len(s); {
		id, ok := asString(s[i])
		if !ok || i+1 >= len(s) {
			return nil, &ProtocolError{Op: op, Reply: reply}
		}
		status, _ := asString(s[i+1])
		br := BatchResult{JobID: id, OK: status == "OK"}
		i += 2
		if !br.OK && i < len(s) {
			if reason, ok := asString(s[i]); ok {
				br.Reason = reason
				i++
			}
		}
		out = append(out, br)
	}
	return out, nil
}

// RetryFailedBatch applies RetryFailed to up to 100 job ids in one
// round trip.
func (o *Ops) RetryFailedBatch(ctx context.Context, queue string, jobIDs []string) ([]BatchResult, error) {
	if len(jobIDs) > maxBatchSize {
		return nil, validationError("batch of %d exceeds the %d-id cap", len(jobIDs), maxBatchSize)
	}
	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}
	reply, err := o.invoke(ctx, "retry_failed_batch", key.QueueAnchor(queue), args...)
	if err != nil {
		return nil, err
	}
	return parseBatchReply("retry_failed_batch", reply)
}

// RemoveJob permanently deletes a job that is not currently leased.
func (o *Ops) RemoveJob(ctx context.Context, queue, jobID string) error {
	reply, err := o.invoke(ctx, "remove_job", key.QueueAnchor(queue), jobID)
	if err != nil {
		return err
	}
	d, parts, perr := discriminant("remove_job", reply)
	if perr != nil {
		return perr
	}
	if d != "OK" {
		return scriptErrorFrom("remove_job", parts)
	}
	return nil
}

// RemoveJobsBatch applies RemoveJob to up to 100 job ids in one round
// trip.
func (o *Ops) RemoveJobsBatch(ctx context.Context, queue string, jobIDs []string) ([]BatchResult, error) {
	if len(jobIDs) > maxBatchSize {
		return nil, validationError("batch of %d exceeds the %d-id cap", len(jobIDs), maxBatchSize)
	}
	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}
	reply, err := o.invoke(ctx, "remove_jobs_batch", key.QueueAnchor(queue), args...)
	if err != nil {
		return nil, err
	}
	return parseBatchReply("remove_jobs_batch", reply)
}

// --- child counters ------------------------------------------------------------

// ChildsInit creates a fan-in counter at key, initialized to expected.
func (o *Ops) ChildsInit(ctx context.Context, childKey string, expected int64) error {
	anchor, err := key.ChildsAnchor(childKey)
	if err != nil {
		return configError("invalid child counter key: %v", err)
	}
	reply, err := o.invoke(ctx, "childs_init", anchor, strconv.FormatInt(expected, 10))
	if err != nil {
		return err
	}
	d, parts, perr := discriminant("childs_init", reply)
	if perr != nil {
		return perr
	}
	if d != "OK" {
		return scriptErrorFrom("childs_init", parts)
	}
	return nil
}

// ChildAck atomically decrements the counter at key and returns the
// number remaining. Any anomaly — transport failure, missing counter,
// or a decrement past zero — is swallowed and reported as -1, so
// retried handlers behave idempotently.
func (o *Ops) ChildAck(ctx context.Context, childKey, childID string) int64 {
	anchor, err := key.ChildsAnchor(childKey)
	if err != nil {
		return -1
	}
	reply, err := o.invoke(ctx, "child_ack", anchor, childID)
	if err != nil {
		return -1
	}
	d, parts, perr := discriminant("child_ack", reply)
	if perr != nil || d != "OK" || len(parts) < 2 {
		return -1
	}
	remaining, ok := asInt(parts[1])
	if !ok {
		return -1
	}
	return remaining
}

// --- sanctioned direct reads ----------------------------------------------------

// IsPaused reports whether queue currently has its pause flag set,
// using a direct EXISTS rather than a script.
func (o *Ops) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := o.store.Exists(ctx, key.QueuePaused(queue)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// JobTimeoutMs reads a job's timeout_ms field directly via HGET,
// falling back to def if the field is absent or non-positive.
func (o *Ops) JobTimeoutMs(ctx context.Context, queue, jobID string, def int64) int64 {
	s, err := o.store.HGet(ctx, key.QueueJob(queue, jobID), "timeout_ms").Result()
	if err != nil {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// --- derived helpers -------------------------------------------------------------

// PausedBackoff returns the sleep duration the runloop applies after
// observing a PAUSED reserve result.
func PausedBackoff(pollIntervalS float64) float64 {
	if v := pollIntervalS * 10; v > 0.25 {
		return v
	}
	return 0.25
}

// DeriveHeartbeatInterval converts a job's lease duration into a
// heartbeat cadence, clamped to [1, 10] seconds.
func DeriveHeartbeatInterval(timeoutMs int64) float64 {
	s := float64(timeoutMs) / 2000.0
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}
