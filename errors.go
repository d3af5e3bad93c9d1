package omniq

import (
	"errors"
	"fmt"
)

// Error kinds used across the package.
//
// Configuration and validation errors are sentinel-wrapped so
// callers can errors.Is against the exported vars below; ScriptError
// and ProtocolError carry their own dynamic message and are matched
// with errors.As.

// ErrConfiguration marks a fatal error raised while constructing a
// Client: a missing scripts directory, a missing script file, or
// (rarely) an invalid anchor key baked into a static config.
var ErrConfiguration = errors.New("omniq: configuration error")

// ErrValidation marks a fatal, call-site error: a non-object/array
// publish payload, an empty child id passed to both Exec.ChildAck
// arguments, or a batch request over the 100-id cap.
var ErrValidation = errors.New("omniq: validation error")

// ErrLeaseLost names the state in which the heartbeater has observed
// NOT_ACTIVE or TOKEN_MISMATCH: the lease is already gone and acking
// would be meaningless. The runloop tracks this state through the
// heartbeater's lost flag and skips ack_success/ack_fail; no function
// in this package returns ErrLeaseLost.
var ErrLeaseLost = errors.New("omniq: lease lost")

// configError builds an error wrapping ErrConfiguration with context.
func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ProtocolError is returned when a script reply does not match any
// shape its calling convention documents.
type ProtocolError struct {
	Op    string
	Reply any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("omniq: %s: malformed reply: %#v", e.Op, e.Reply)
}

// ScriptError wraps an ["ERR", reason, ...] script reply.
//
// Reason is a short machine-oriented token such as NOT_ACTIVE,
// TOKEN_MISMATCH, or BAD_STATE; callers may match on it with
// strings.Contains rather than exact equality, since the script
// bundle may append detail after the token.
type ScriptError struct {
	Op     string
	Reason string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
}

func scriptErr(op, reason string) error {
	return &ScriptError{Op: op, Reason: reason}
}
