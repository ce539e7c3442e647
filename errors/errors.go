// Package errors provides error handling for treesync.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operators
//
// Usage:
//
//	// Wrap with context
//	if err := q.Flush(); err != nil {
//	    return errors.Wrap(err, "failed to flush send queue")
//	}
//
//	// Classify protocol failures
//	return errors.Wrapf(errors.ErrProtocolViolation, "empty batch for object %s", id)
//
//	// Check errors
//	if errors.Is(err, errors.ErrReferenceMiss) {
//	    // request a reference reset and retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the synchronization protocol.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrProtocolViolation means the peer sent a stream that cannot be
	// replayed: empty batch, missing positions vector, batch limit exceeded,
	// unexpected state. Fatal to the current object fetch.
	ErrProtocolViolation = New("protocol violation")

	// ErrReferenceMiss means a pure back-reference named a ref id that is
	// not in the local reference table.
	ErrReferenceMiss = New("reference miss")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrIncompatiblePeer indicates the peer speaks an unsupported protocol version
	ErrIncompatiblePeer = New("incompatible peer")
)

// IsProtocolViolation checks if an error is or wraps ErrProtocolViolation
func IsProtocolViolation(err error) bool {
	return err != nil && Is(err, ErrProtocolViolation)
}

// IsReferenceMiss checks if an error is or wraps ErrReferenceMiss
func IsReferenceMiss(err error) bool {
	return err != nil && Is(err, ErrReferenceMiss)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// ProtocolViolationf creates a protocol violation with a formatted message
func ProtocolViolationf(format string, args ...interface{}) error {
	return Wrapf(ErrProtocolViolation, format, args...)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// Code returns a stable wire code for the sentinel an error wraps, or
// "internal" when it wraps none of them.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case Is(err, ErrReferenceMiss):
		return "reference_miss"
	case Is(err, ErrNotFound):
		return "not_found"
	case Is(err, ErrInvalidRequest):
		return "invalid_request"
	case Is(err, ErrIncompatiblePeer):
		return "incompatible_peer"
	default:
		return "internal"
	}
}

// FromCode rebuilds an error received from a peer, wrapping the sentinel
// named by code so errors.Is keeps working across the wire.
func FromCode(code, msg string) error {
	var sentinel error
	switch code {
	case "protocol_violation":
		sentinel = ErrProtocolViolation
	case "reference_miss":
		sentinel = ErrReferenceMiss
	case "not_found":
		sentinel = ErrNotFound
	case "invalid_request":
		sentinel = ErrInvalidRequest
	case "incompatible_peer":
		sentinel = ErrIncompatiblePeer
	default:
		return Newf("peer error: %s", msg)
	}
	return Wrapf(sentinel, "peer error: %s", msg)
}
