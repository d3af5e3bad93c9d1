package omniq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omniqueue/omniq"
)

func TestPublishRejectsScalarPayload(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Publish(ctx, "q", []byte(`"just a string"`), omniq.PublishOptions{}); err == nil {
		t.Fatal("expected a validation error for a scalar payload")
	} else if !errors.Is(err, omniq.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPublishReserveAckSuccessRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	jobID, err := client.Publish(ctx, "orders", []byte(`{"order_id":42}`), omniq.PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	record, err := client.Reserve(ctx, "orders")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if record == nil {
		t.Fatal("Reserve returned no job, expected the one just published")
	}
	if record.ID != jobID {
		t.Fatalf("reserved job id = %q, want %q", record.ID, jobID)
	}
	if record.LeaseToken == "" {
		t.Fatal("reserved job has no lease token")
	}
	if record.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", record.Attempt)
	}

	empty, err := client.Reserve(ctx, "orders")
	if err != nil {
		t.Fatalf("Reserve (should be empty): %v", err)
	}
	if empty != nil {
		t.Fatal("expected the queue to be empty once the only job was reserved")
	}

	if err := client.AckSuccess(ctx, record.Of()); err != nil {
		t.Fatalf("AckSuccess: %v", err)
	}

	// A second ack against the same (now-gone) lease must fail.
	if err := client.AckSuccess(ctx, record.Of()); err == nil {
		t.Fatal("expected AckSuccess to fail on an already-acked job")
	}
}

func TestAckFailRetriesThenDeadLetters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Publish(ctx, "flaky", []byte(`{"n":1}`), omniq.PublishOptions{
		MaxAttempts: 2,
		BackoffMs:   1,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	record, err := client.Reserve(ctx, "flaky")
	if err != nil || record == nil {
		t.Fatalf("Reserve (attempt 1): record=%v err=%v", record, err)
	}
	result, err := client.AckFail(ctx, record.Of(), "boom")
	if err != nil {
		t.Fatalf("AckFail (attempt 1): %v", err)
	}
	if !result.Retry {
		t.Fatal("expected attempt 1 of 2 to be retried, not dead-lettered")
	}

	time.Sleep(10 * time.Millisecond) // let the 1ms backoff due_ms pass

	if _, err := client.PromoteDelayed(ctx, "flaky", 1000); err != nil {
		t.Fatalf("PromoteDelayed: %v", err)
	}

	record2, err := client.Reserve(ctx, "flaky")
	if err != nil || record2 == nil {
		t.Fatalf("Reserve (attempt 2): record=%v err=%v", record2, err)
	}
	if record2.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", record2.Attempt)
	}
	result2, err := client.AckFail(ctx, record2.Of(), "boom again")
	if err != nil {
		t.Fatalf("AckFail (attempt 2): %v", err)
	}
	if result2.Retry {
		t.Fatal("expected attempt 2 of 2 to be dead-lettered, not retried")
	}

	if err := client.RetryFailed(ctx, "flaky", record2.ID); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	record3, err := client.Reserve(ctx, "flaky")
	if err != nil || record3 == nil {
		t.Fatalf("Reserve after RetryFailed: record=%v err=%v", record3, err)
	}
}

func TestHeartbeatExtendsLeaseAndRejectsWrongToken(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Publish(ctx, "hb", []byte(`{"n":1}`), omniq.PublishOptions{TimeoutMs: 5000})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	record, err := client.Reserve(ctx, "hb")
	if err != nil || record == nil {
		t.Fatalf("Reserve: record=%v err=%v", record, err)
	}

	newLock, err := client.Heartbeat(ctx, record.Of(), 5000)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if newLock < record.LockUntilMs {
		t.Fatalf("heartbeat did not extend the lease: new=%d old=%d", newLock, record.LockUntilMs)
	}

	bad := record.Of()
	bad.LeaseToken = "not-the-real-token"
	if _, err := client.Heartbeat(ctx, bad, 5000); err == nil {
		t.Fatal("expected heartbeat with a mismatched token to fail")
	}
}

func TestPauseBlocksReserve(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Publish(ctx, "paused-q", []byte(`{"n":1}`), omniq.PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := client.Pause(ctx, "paused-q"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused, err := client.IsPaused(ctx, "paused-q")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if !paused {
		t.Fatal("expected IsPaused to report true after Pause")
	}

	if _, err := client.Reserve(ctx, "paused-q"); !errors.Is(err, omniq.Paused) {
		t.Fatalf("expected Reserve to report Paused, got %v", err)
	}

	if err := client.Resume(ctx, "paused-q"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	record, err := client.Reserve(ctx, "paused-q")
	if err != nil || record == nil {
		t.Fatalf("Reserve after Resume: record=%v err=%v", record, err)
	}
}

func TestChildFanIn(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if err := client.ChildsInit(ctx, "batch-1", 3); err != nil {
		t.Fatalf("ChildsInit: %v", err)
	}
	if err := client.ChildsInit(ctx, "batch-1", 3); err == nil {
		t.Fatal("expected a second ChildsInit on the same key to fail")
	}

	if r := client.ChildAck(ctx, "batch-1", "child-a"); r != 2 {
		t.Fatalf("ChildAck #1 remaining = %d, want 2", r)
	}
	if r := client.ChildAck(ctx, "batch-1", "child-b"); r != 1 {
		t.Fatalf("ChildAck #2 remaining = %d, want 1", r)
	}
	if r := client.ChildAck(ctx, "batch-1", "child-c"); r != 0 {
		t.Fatalf("ChildAck #3 remaining = %d, want 0", r)
	}
	// The counter is gone once it reaches zero; a further ack is swallowed.
	if r := client.ChildAck(ctx, "batch-1", "child-d"); r != -1 {
		t.Fatalf("ChildAck past exhaustion = %d, want -1", r)
	}
}

func TestRemoveJobRejectsActiveLease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	jobID, err := client.Publish(ctx, "rm", []byte(`{"n":1}`), omniq.PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	record, err := client.Reserve(ctx, "rm")
	if err != nil || record == nil {
		t.Fatalf("Reserve: record=%v err=%v", record, err)
	}
	if err := client.RemoveJob(ctx, "rm", jobID); err == nil {
		t.Fatal("expected RemoveJob to reject a job with an active lease")
	}
	if err := client.AckSuccess(ctx, record.Of()); err != nil {
		t.Fatalf("AckSuccess: %v", err)
	}
	if err := client.RemoveJob(ctx, "rm", jobID); err == nil {
		t.Fatal("expected RemoveJob to fail once the job no longer exists")
	}
}

func TestRemoveJobsBatch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := client.Publish(ctx, "batch-rm", []byte(`{"n":1}`), omniq.PublishOptions{})
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		ids = append(ids, id)
	}
	ids = append(ids, "does-not-exist")

	results, err := client.RemoveJobsBatch(ctx, "batch-rm", ids)
	if err != nil {
		t.Fatalf("RemoveJobsBatch: %v", err)
	}
	if len(results) != len(ids) {
		t.Fatalf("got %d results, want %d", len(results), len(ids))
	}
	for i, r := range results[:3] {
		if !r.OK {
			t.Fatalf("result %d for existing job %q: expected OK, got reason %q", i, ids[i], r.Reason)
		}
	}
	if results[3].OK {
		t.Fatal("expected the nonexistent job id to fail")
	}
}

func TestGroupConcurrencyLimit(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Publish(ctx, "grouped", []byte(`{"n":1}`), omniq.PublishOptions{
			GID:        "customer-1",
			GroupLimit: 1,
		}); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	first, err := client.Reserve(ctx, "grouped")
	if err != nil || first == nil {
		t.Fatalf("Reserve #1: record=%v err=%v", first, err)
	}

	// The group's concurrency limit is 1 and first is still active, so
	// a second reserve must not hand back another job from the group.
	second, err := client.Reserve(ctx, "grouped")
	if err != nil {
		t.Fatalf("Reserve #2: %v", err)
	}
	if second != nil {
		t.Fatal("expected the group limit to block a second concurrent reservation")
	}

	if err := client.AckSuccess(ctx, first.Of()); err != nil {
		t.Fatalf("AckSuccess: %v", err)
	}

	third, err := client.Reserve(ctx, "grouped")
	if err != nil || third == nil {
		t.Fatalf("Reserve #3 (after freeing the group slot): record=%v err=%v", third, err)
	}
}

func TestDeriveHeartbeatIntervalClamps(t *testing.T) {
	cases := []struct {
		timeoutMs int64
		want      float64
	}{
		{timeoutMs: 500, want: 1},
		{timeoutMs: 30_000, want: 10},
		{timeoutMs: 4_000, want: 2},
	}
	for _, c := range cases {
		if got := omniq.DeriveHeartbeatInterval(c.timeoutMs); got != c.want {
			t.Errorf("DeriveHeartbeatInterval(%d) = %v, want %v", c.timeoutMs, got, c.want)
		}
	}
}

func TestEstimateRetryDelayGrowsAndCaps(t *testing.T) {
	d1 := omniq.EstimateRetryDelay(1000, 1)
	d2 := omniq.EstimateRetryDelay(1000, 2)
	if d2 <= d1 {
		t.Fatalf("expected attempt 2 delay (%v) to exceed attempt 1 (%v)", d2, d1)
	}
	capped := omniq.EstimateRetryDelay(1000, 20)
	if capped != 10*time.Second {
		t.Fatalf("expected the backoff to cap at 10x base, got %v", capped)
	}
}
