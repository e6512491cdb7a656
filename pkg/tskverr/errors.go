// Package tskverr defines the error-kind taxonomy shared across every TSKV
// component. Leaf errors are constructed with a Kind and bubble up through
// component boundaries unmodified; only the RPC edge (pkg/api) converts a
// Kind to a wire status code.
package tskverr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery and status-code purposes. It is not
// a message: two errors with the same Kind can carry unrelated text.
type Kind int

const (
	// Internal marks a bug-class invariant violation.
	Internal Kind = iota
	// InvalidInput marks a malformed request: bad tag/field, schema
	// mismatch, oversized tag key/value. Never retried.
	InvalidInput
	// IO marks a disk or network failure.
	IO
	// StorageCorruption marks a TSM footer/bloom/checksum failure. The
	// file is quarantined, not deleted.
	StorageCorruption
	// Schema marks a column/table/field naming conflict.
	Schema
	// Meta marks a tenant/db/table/vnode/replica-set lookup failure or a
	// meta-service transport error.
	Meta
	// Replication marks a Raft-layer condition: ForwardToLeader,
	// RaftInternalErr, or a wrapped apply-engine error.
	Replication
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case IO:
		return "io"
	case StorageCorruption:
		return "storage_corruption"
	case Schema:
		return "schema"
	case Meta:
		return "meta"
	case Replication:
		return "replication"
	default:
		return "internal"
	}
}

// Error is a typed-kind error. It implements errors.Unwrap so
// errors.Is/errors.As keep working across the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a typed error for op with the given kind, wrapping cause
// (which may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Of reports the Kind of err, defaulting to Internal when err carries no
// *Error in its chain.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
