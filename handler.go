package omniq

import (
	"context"

	"github.com/omniqueue/omniq/payload"
)

// HandlerContext is passed to a consumer's handler for each reserved
// job.
type HandlerContext struct {
	Queue       string
	JobID       string
	PayloadRaw  []byte
	Payload     payload.Value
	Attempt     int
	LockUntilMs int64
	LeaseToken  string
	GID         string
	Exec        *Exec
}

// Handler processes one reserved job. A non-nil error triggers
// ack_fail with "<error's dynamic type>: <error's message>" as the
// error text; a nil error triggers ack_success.
type Handler func(ctx context.Context, hc *HandlerContext) error
