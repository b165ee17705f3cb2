package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// HubErrKind classifies the failures of the reconciliation subsystem.
type HubErrKind uint32

const (
	// Structural errors come from malformed input, typically a key that does
	// not follow the sync-key grammar. They are rejected before any state is
	// touched.
	Structural HubErrKind = iota
	// Conflict errors describe a message that lost the CRDT comparison. They
	// are a normal outcome and only logged at debug level.
	Conflict
	// Peer errors come from a remote node: timeouts, malformed metadata or
	// keys that do not decode. The affected prefix is retried next cycle.
	Peer
	// Corruption errors mean the in-memory trie disagrees with the backing
	// store. They trigger a rebuild.
	Corruption
)

// String ...
func (k HubErrKind) String() string {
	switch k {
	case Structural:
		return "Structural"
	case Conflict:
		return "Conflict"
	case Peer:
		return "Peer"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// HubErr carries a kind alongside a wrapped cause.
type HubErr struct {
	kind  HubErrKind
	cause error
}

// NewHubErr creates a HubErr of the given kind with a formatted message.
func NewHubErr(kind HubErrKind, format string, args ...interface{}) HubErr {
	return HubErr{
		kind:  kind,
		cause: errors.Errorf(format, args...),
	}
}

// WrapHubErr wraps err as a HubErr of the given kind. It returns nil if err is
// nil.
func WrapHubErr(kind HubErrKind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return HubErr{
		kind:  kind,
		cause: errors.Wrap(err, msg),
	}
}

// Error ...
func (e HubErr) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

// Kind returns the classification of the error.
func (e HubErr) Kind() HubErrKind {
	return e.kind
}

// Cause implements the causer interface of github.com/pkg/errors.
func (e HubErr) Cause() error {
	return e.cause
}

// Unwrap ...
func (e HubErr) Unwrap() error {
	return e.cause
}

// IsHubErr reports whether err, or any error it wraps, is a HubErr of kind k.
func IsHubErr(err error, k HubErrKind) bool {
	for err != nil {
		if hubErr, ok := err.(HubErr); ok {
			return hubErr.kind == k
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}
