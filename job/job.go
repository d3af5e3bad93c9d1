// Package job holds the client-facing projections of server-side job
// and lease state. Jobs themselves live entirely in the backing store;
// these types are the snapshots the Ops layer parses out of script
// replies.
package job

import "github.com/omniqueue/omniq/payload"

// Record is the client's view of a reserved job, as returned by
// Ops.Reserve.
//
// Record is a point-in-time snapshot. Mutating it has no effect on
// storage; transitions happen only through Ops calls presenting
// LeaseToken.
type Record struct {
	ID           string
	Queue        string
	PayloadRaw   []byte
	Payload      payload.Value
	LockUntilMs  int64
	Attempt      int
	GID          string
	LeaseToken   string
}

// Lease is the subset of Record needed to present proof of ownership
// to a mutating operation (heartbeat, ack_success, ack_fail).
type Lease struct {
	Queue      string
	ID         string
	LeaseToken string
}

// Of returns the Lease carried by a Record.
func (r *Record) Of() Lease {
	return Lease{Queue: r.Queue, ID: r.ID, LeaseToken: r.LeaseToken}
}
