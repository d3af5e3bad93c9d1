package omniq_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omniqueue/omniq"
)

// stopAfter cancels ctx once n handler invocations have completed,
// giving the runloop a deterministic stop condition that does not
// depend on OS signal delivery.
func stopAfter(n int32, cancel context.CancelFunc) (*int32, func()) {
	var count int32
	return &count, func() {
		if atomic.AddInt32(&count, 1) >= n {
			cancel()
		}
	}
}

func noSignals() omniq.ConsumeOptions {
	return omniq.ConsumeOptions{
		PollIntervalS: 0.01,
		Drain:         omniq.Bool(true),
		StopOnCtrlC:   omniq.Bool(false),
	}
}

func TestConsumeProcessesJobAndAcksSuccess(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID, err := client.Publish(ctx, "consume-ok", []byte(`{"n":1}`), omniq.PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var seenID string
	mark, onHandled := stopAfter(1, cancel)
	_ = mark

	err = client.Consume(ctx, "consume-ok", func(ctx context.Context, hc *omniq.HandlerContext) error {
		seenID = hc.JobID
		onHandled()
		return nil
	}, noSignals())

	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if seenID != jobID {
		t.Fatalf("handler saw job %q, want %q", seenID, jobID)
	}

	// The job was acked successfully, so a fresh reserve finds nothing.
	record, err := client.Reserve(context.Background(), "consume-ok")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if record != nil {
		t.Fatal("expected the queue to be empty after a successful consume")
	}
}

func TestConsumeRetriesFailedJob(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := client.Publish(ctx, "consume-fail", []byte(`{"n":1}`), omniq.PublishOptions{
		MaxAttempts: 2,
		BackoffMs:   1,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var attempts int32
	_, onHandled := stopAfter(1, cancel)

	err = client.Consume(ctx, "consume-fail", func(ctx context.Context, hc *omniq.HandlerContext) error {
		atomic.AddInt32(&attempts, 1)
		onHandled()
		return errors.New("boom")
	}, noSignals())

	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("handler ran %d times, want 1", attempts)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := client.PromoteDelayed(context.Background(), "consume-fail", 1000); err != nil {
		t.Fatalf("PromoteDelayed: %v", err)
	}
	record, err := client.Reserve(context.Background(), "consume-fail")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if record == nil {
		t.Fatal("expected the failed job to have been rescheduled for a second attempt")
	}
	if record.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", record.Attempt)
	}
}

func TestConsumeHeartbeatKeepsLongRunningJobAlive(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID, err := client.Publish(ctx, "consume-slow", []byte(`{"n":1}`), omniq.PublishOptions{
		TimeoutMs: 150,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	opts := noSignals()
	opts.HeartbeatIntervalS = 0.05

	entered := make(chan struct{})
	_, onHandled := stopAfter(1, cancel)

	done := make(chan error, 1)
	go func() {
		done <- client.Consume(ctx, "consume-slow", func(ctx context.Context, hc *omniq.HandlerContext) error {
			close(entered)
			// Longer than the job's original 150ms timeout: a bare
			// lease with no heartbeater would be reclaimable by
			// reap_expired well before this returns.
			time.Sleep(220 * time.Millisecond)
			onHandled()
			return nil
		}, opts)
	}()

	<-entered
	time.Sleep(180 * time.Millisecond) // past the original timeout, heartbeater should have extended it
	if n, err := client.ReapExpired(context.Background(), "consume-slow", 1000); err != nil {
		t.Fatalf("ReapExpired: %v", err)
	} else if n != 0 {
		t.Fatalf("reap_expired reclaimed %d job(s); the heartbeater should have kept the lease alive", n)
	}

	if err := <-done; err != nil {
		t.Fatalf("Consume: %v", err)
	}

	record, err := client.Reserve(context.Background(), "consume-slow")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if record != nil {
		t.Fatalf("expected job %s to have been acked, not reclaimed as expired", jobID)
	}
}
