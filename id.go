package omniq

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// nowMs returns the current wall-clock time in milliseconds, matching
// the granularity every script timestamp (lock_until_ms, due_ms, ...)
// is expressed in.
func nowMs() int64 {
	return time.Now().UnixMilli()
}

// idGen produces lexicographically-sortable job identifiers.
//
// A single shared, mutex-guarded monotonic source is used so that two
// successive calls — even from concurrent goroutines — yield
// ULIDs whose time component never decreases. ulid.Monotonic is not
// safe for concurrent use, so the mutex serializes every call through
// one *rand.Reader-backed source per Ops, which also keeps entropy
// pooled rather than reopened per call.
type idGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDGen() *idGen {
	return &idGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return id.String()
}
