package omniq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ConsumeOptions carries the runloop's tunables. A zero value for any
// numeric field selects the documented default; Drain and StopOnCtrlC
// default to true when left nil (use the Bool helper to set them
// explicitly).
type ConsumeOptions struct {
	PollIntervalS      float64
	PromoteIntervalS   float64
	PromoteBatch       int
	ReapIntervalS      float64
	ReapBatch          int
	HeartbeatIntervalS float64 // 0 = auto, derived per job
	Verbose            bool
	Logger             *slog.Logger
	Drain              *bool
	StopOnCtrlC        *bool

	// RateLimit, if set, caps the rate of reserve calls this consumer
	// issues. Absent a limiter, the loop polls unthrottled.
	RateLimit *rate.Limiter
}

// Bool returns a pointer to b, for setting Drain/StopOnCtrlC to a
// non-default value.
func Bool(b bool) *bool {
	return &b
}

func (o ConsumeOptions) withDefaults() ConsumeOptions {
	if o.PollIntervalS == 0 {
		o.PollIntervalS = 0.05
	}
	if o.PromoteIntervalS == 0 {
		o.PromoteIntervalS = 1.0
	}
	if o.PromoteBatch == 0 {
		o.PromoteBatch = 1000
	}
	if o.ReapIntervalS == 0 {
		o.ReapIntervalS = 1.0
	}
	if o.ReapBatch == 0 {
		o.ReapBatch = 1000
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if o.Drain == nil {
		o.Drain = Bool(true)
	}
	if o.StopOnCtrlC == nil {
		o.StopOnCtrlC = Bool(true)
	}
	return o
}

// runConsumer drives the single-threaded cooperative reserve/heartbeat/
// ack loop for one queue until stop is requested.
func runConsumer(ctx context.Context, ops *Ops, queue string, handler Handler, opts ConsumeOptions) error {
	opts = opts.withDefaults()
	log := opts.Logger

	var stop atomic.Bool

	// Canceling ctx always requests a stop, independent of signal
	// handling: the watch is scoped to this call via a child context so
	// it never outlives runConsumer.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		<-watchCtx.Done()
		stop.Store(true)
	}()

	if *opts.StopOnCtrlC {
		guard := newSignalGuard(*opts.Drain, &stop)
		release := guard.install()
		defer release()
	}

	pollInterval := time.Duration(opts.PollIntervalS * float64(time.Second))
	promoteInterval := time.Duration(opts.PromoteIntervalS * float64(time.Second))
	reapInterval := time.Duration(opts.ReapIntervalS * float64(time.Second))
	pausedBackoff := time.Duration(PausedBackoff(opts.PollIntervalS) * float64(time.Second))

	lastPromote := time.Now().Add(-promoteInterval)
	lastReap := time.Now().Add(-reapInterval)

	for {
		if stop.Load() {
			return nil
		}

		now := time.Now()
		if now.Sub(lastPromote) >= promoteInterval {
			if _, err := ops.PromoteDelayed(ctx, queue, opts.PromoteBatch, 0); err != nil && opts.Verbose {
				log.Warn("promote_delayed failed", "queue", queue, "err", err)
			}
			lastPromote = now
		}
		if now.Sub(lastReap) >= reapInterval {
			if _, err := ops.ReapExpired(ctx, queue, opts.ReapBatch, 0); err != nil && opts.Verbose {
				log.Warn("reap_expired failed", "queue", queue, "err", err)
			}
			lastReap = now
		}

		if opts.RateLimit != nil {
			if err := opts.RateLimit.Wait(ctx); err != nil {
				return err
			}
		}

		record, err := ops.Reserve(ctx, queue, 0)
		if err != nil {
			if errors.Is(err, Paused) {
				time.Sleep(pausedBackoff)
				continue
			}
			if opts.Verbose {
				log.Warn("reserve failed", "queue", queue, "err", err)
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if record == nil {
			time.Sleep(pollInterval)
			continue
		}
		if record.LeaseToken == "" {
			if opts.Verbose {
				log.Warn("reserve returned a job with no lease token", "queue", queue, "job_id", record.ID)
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}

		if stop.Load() && !*opts.Drain {
			return nil
		}

		lease := record.Of()
		leaseTimeoutMs := record.LockUntilMs - time.Now().UnixMilli()
		if leaseTimeoutMs <= 0 {
			leaseTimeoutMs = 1000
		}
		timeoutMs := ops.JobTimeoutMs(ctx, queue, record.ID, leaseTimeoutMs)
		hbIntervalS := opts.HeartbeatIntervalS
		if hbIntervalS == 0 {
			hbIntervalS = DeriveHeartbeatInterval(timeoutMs)
		}

		hc := &HandlerContext{
			Queue:       queue,
			JobID:       record.ID,
			PayloadRaw:  record.PayloadRaw,
			Payload:     record.Payload,
			Attempt:     record.Attempt,
			LockUntilMs: record.LockUntilMs,
			LeaseToken:  record.LeaseToken,
			GID:         record.GID,
			Exec:        newExec(ops, record.ID),
		}

		hb := newHeartbeater(ops, lease, timeoutMs)
		if err := hb.start(ctx, time.Duration(hbIntervalS*float64(time.Second))); err != nil && opts.Verbose {
			log.Warn("heartbeater failed to start", "queue", queue, "job_id", record.ID, "err", err)
		}

		var handlerErr error
		func() {
			defer func() {
				_ = hb.stop(100 * time.Millisecond)
			}()
			handlerErr = handler(ctx, hc)
		}()

		// Acks run on a context that ignores ctx's cancellation, so a job
		// whose handler finished during a ctx-triggered drain is still acked.
		ackCtx := context.WithoutCancel(ctx)
		if !hb.isLost() {
			if handlerErr == nil {
				if err := ops.AckSuccess(ackCtx, lease); err != nil && opts.Verbose {
					log.Warn("ack_success failed", "queue", queue, "job_id", record.ID, "err", err)
				}
			} else {
				msg := fmt.Sprintf("%T: %s", handlerErr, handlerErr)
				result, err := ops.AckFail(ackCtx, lease, 0, msg)
				if err != nil {
					if opts.Verbose {
						log.Warn("ack_fail failed", "queue", queue, "job_id", record.ID, "err", err)
					}
				} else if opts.Verbose {
					if result.Retry {
						log.Info("job rescheduled", "queue", queue, "job_id", record.ID, "due_ms", result.DueMs)
					} else {
						log.Info("job moved to dead-letter", "queue", queue, "job_id", record.ID)
					}
				}
			}
		}

		if stop.Load() && *opts.Drain {
			return nil
		}
	}
}
