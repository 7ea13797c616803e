// Package rpcerr classifies the errors a receive-pack session can
// produce: every failure that should influence protocol behavior
// (which sideband to use, whether to abort the whole transaction,
// what the report-status line says) is wrapped in a typed Error
// carrying a Kind, rather than inspected by string matching at the
// call site.
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies why a receive-pack operation failed.
type Kind int

const (
	// KindProtocol covers malformed wire input: bad pkt-line framing,
	// unparseable commands, capability violations.
	KindProtocol Kind = iota
	// KindPolicy covers a ref update rejected by policy evaluation
	// (deny-deletes, non-fast-forward, current-branch protections).
	KindPolicy
	// KindConnectivity covers a new object that isn't reachable from
	// the pushed refs or the existing repository.
	KindConnectivity
	// KindIngest covers pack ingestion failures (index-pack/
	// unpack-objects exiting non-zero, size or memory limits hit).
	KindIngest
	// KindStore covers object/ref store failures: a ref CAS race, an
	// I/O error promoting a quarantine, a transaction that couldn't
	// commit.
	KindStore
	// KindHook covers a pre-receive/update/post-receive hook, or the
	// proc-receive helper, exiting non-zero or violating its protocol.
	KindHook
	// KindInternal covers anything that should never happen in
	// correctly operating code: a logic bug, not a caller error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindPolicy:
		return "policy"
	case KindConnectivity:
		return "connectivity"
	case KindIngest:
		return "ingest"
	case KindStore:
		return "store"
	case KindHook:
		return "hook"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified session failure.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New builds a classified Error with no underlying cause.
func New(kind Kind, message string) error {
	return Error{kind: kind, message: message}
}

// Wrap classifies an existing error, preserving it for errors.Unwrap.
func Wrap(kind Kind, message string, cause error) error {
	return Error{kind: kind, message: message, cause: cause}
}

func (e Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e Error) Unwrap() error { return e.cause }

// Kind returns e's classification.
func (e Error) Kind() Kind { return e.kind }

// KindOf extracts the Kind of err if it (or something it wraps) is an
// rpcerr.Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return 0, false
}
