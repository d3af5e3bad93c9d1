package omniq

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/omniqueue/omniq/internal"
	"github.com/omniqueue/omniq/job"
)

// heartbeater keeps one reserved job's lease alive in the background
// for the duration of its handler call.
//
// It shares nothing with the handler beyond the lost flag and the
// stop()/done handshake built on internal.TimerTask and
// internal.DoneChan.
type heartbeater struct {
	lcBase
	ops       *Ops
	lease     job.Lease
	timeoutMs int64
	task      internal.TimerTask
	lost      atomic.Bool
}

func newHeartbeater(ops *Ops, lease job.Lease, timeoutMs int64) *heartbeater {
	return &heartbeater{ops: ops, lease: lease, timeoutMs: timeoutMs}
}

// start fires the heartbeater's immediate call and begins its
// periodic ticker at interval.
func (h *heartbeater) start(ctx context.Context, interval time.Duration) error {
	if err := h.tryStart(); err != nil {
		return err
	}
	h.task.Start(ctx, h.tick, interval)
	return nil
}

func (h *heartbeater) tick(ctx context.Context) {
	_, err := h.ops.Heartbeat(ctx, h.lease, h.timeoutMs, 0)
	if err == nil {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "NOT_ACTIVE") || strings.Contains(msg, "TOKEN_MISMATCH") {
		h.lost.Store(true)
		h.task.Stop()
	}
	// Any other error (transport hiccup, transient script failure) is
	// swallowed; the next tick tries again.
}

// stop cancels the ticker and waits up to timeout for the in-flight
// tick, if any, to settle. Idempotent: a second call is a no-op.
func (h *heartbeater) stop(timeout time.Duration) error {
	return h.tryStop(timeout, func() internal.DoneChan {
		return h.task.Stop()
	})
}

// isLost reports whether a heartbeat tick has observed NOT_ACTIVE or
// TOKEN_MISMATCH, i.e. this consumer no longer holds the job's lease.
func (h *heartbeater) isLost() bool {
	return h.lost.Load()
}
