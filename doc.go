// Package omniq is a distributed job-queue client library backed by a
// Redis-compatible key-value store.
//
// # Overview
//
// omniq models a durable job queue whose state transitions — enqueue,
// reserve, heartbeat, ack, retry scheduling, dead-letter, pause/resume,
// fan-out child counters — all execute as atomic server-side Lua
// scripts against the backing store. The client is a thin, typed
// driver (Ops) plus a consumer runloop; it never composes a lane key
// itself beyond the queue and child-counter anchors the scripts expect.
//
// Producers publish JSON jobs (objects or arrays only) onto named
// queues with Client.Publish. Consumers call Client.Consume with a
// queue name and a Handler; the runloop reserves one job at a time
// under a time-bounded lease, keeps the lease alive with a background
// heartbeater while the handler runs, and acks success or failure when
// it returns.
//
// # Lease Model
//
// A reserved job is locked until lock_until_ms. While the lease is
// valid, no other consumer can reserve it. If a consumer crashes or
// stalls past the lease, reap_expired returns the job to its ready
// lane so another consumer can pick it up — at-least-once delivery,
// not exactly-once. Handlers must be idempotent.
//
// # Lanes
//
// A job lives in exactly one lane at a time: ready (ungrouped FIFO),
// grouped-ready (a per-group-id FIFO capped by that group's
// concurrency limit), delayed (sorted by due time), active (sorted by
// lease expiry), or failed (the dead-letter set after max_attempts is
// exhausted).
//
// # Retry Policy
//
// When a handler returns an error, ack_fail either reschedules the job
// into the delayed lane with an exponential backoff (capped at 10x the
// configured backoff) or moves it to the failed set once max_attempts
// is exhausted. EstimateRetryDelay mirrors the same formula client-side
// as an advisory ETA predictor.
//
// # Consumer Runloop
//
// Consume runs a single-threaded cooperative loop per call: it
// periodically promotes due delayed jobs and reaps expired leases,
// then reserves, dispatches to the handler, and acks. A heartbeater
// runs as an independent background task for the duration of each
// handler call, sharing only a lease-lost flag and a stop/done
// handshake with the runloop. SIGINT/SIGTERM handling is installed for
// the lifetime of each Consume call; with Drain set (the default), a
// first interrupt drains in flight work and a second forces an
// immediate exit, while without Drain an interrupt stops the loop
// before the next handler runs.
//
// Consume does not guarantee exactly-once delivery.
//
// # Fan-out / Fan-in
//
// ChildsInit and ChildAck maintain a counter keyed independently of any
// queue, letting a producer fan a unit of work out across many jobs
// and detect when the last one finishes. The counter reaches zero at
// most once; ChildAck swallows transport and already-exhausted errors
// and reports -1 so retried handlers remain idempotent.
//
// # Concurrency Model
//
// Multiple Consume calls on the same Client run independently; they
// share only the store connection and the script-SHA cache. The
// process-wide script-cache mutex is held only while recovering from a
// NOSCRIPT reply after a store restart — normal-path EVALSHA never
// takes it.
//
// # Storage Expectations
//
// omniq requires a Redis-compatible store reachable via standalone,
// TLS, or cluster connection (with automatic fallback to standalone if
// the server rejects cluster commands). All multi-key script access
// stays within one hash-tagged slot; the client never composes a lane
// key the scripts own.
package omniq
