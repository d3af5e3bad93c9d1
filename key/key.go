// Package key derives the hash-tagged Redis keys OmniQ passes as the
// single declared key of every script invocation.
//
// All keys belonging to one queue share the substring "{queue}"; all
// keys belonging to one child counter share "{cc:key}". Under Redis
// Cluster, the hash tag forces every co-hashed key onto a single slot,
// which is what lets the server-side scripts touch several keys while
// remaining legal atomic operations.
package key

import (
	"errors"
	"strings"
)

// ErrInvalidChildKey is returned when a child-counter key fails
// validation: empty, longer than 128 bytes, or containing a brace.
var ErrInvalidChildKey = errors.New("key: invalid child counter key")

const maxChildKeyLen = 128

// QueueBase returns the hash-tagged base for the given queue name.
//
// If name already contains both '{' and '}', it is assumed to already
// be a hash tag and is returned unchanged. Otherwise it is wrapped as
// "{name}".
func QueueBase(name string) string {
	if strings.Contains(name, "{") && strings.Contains(name, "}") {
		return name
	}
	return "{" + name + "}"
}

// QueueAnchor returns the single declared key passed to every
// queue-scoped script: the queue's base hash tag suffixed with ":meta".
func QueueAnchor(name string) string {
	return QueueBase(name) + ":meta"
}

// QueuePaused returns the pause flag key for the given queue.
func QueuePaused(name string) string {
	return QueueBase(name) + ":paused"
}

// QueueJob returns the job-record hash key for the given queue and job id.
func QueueJob(name string, jobID string) string {
	return QueueBase(name) + ":job:" + jobID
}

// ValidateChildKey enforces the child-counter key constraint: non-empty,
// at most 128 bytes, and free of '{' or '}'.
func ValidateChildKey(k string) error {
	if k == "" || len(k) > maxChildKeyLen || strings.ContainsAny(k, "{}") {
		return ErrInvalidChildKey
	}
	return nil
}

// ChildsBase returns the hash-tagged base for a child counter key,
// after validating k.
func ChildsBase(k string) (string, error) {
	if err := ValidateChildKey(k); err != nil {
		return "", err
	}
	return "{cc:" + k + "}", nil
}

// ChildsAnchor returns the single declared key passed to every
// child-counter script: the counter's base hash tag suffixed with
// ":meta".
func ChildsAnchor(k string) (string, error) {
	base, err := ChildsBase(k)
	if err != nil {
		return "", err
	}
	return base + ":meta", nil
}
