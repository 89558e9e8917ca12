// Package armerr defines the exhaustive error taxonomy shared across the
// transport, kinematics, and motion packages.
package armerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Errors surfaced by the transport, kinematics, and motion
// layers wrap exactly one of these via fmt.Errorf("...: %w", Err...), so
// callers can branch with errors.Is regardless of which of those layers
// produced it. wire.Decode's bare io.EOF at a frame boundary is the one
// exception there; configuration and telemetry errors are not wrapped.
var (
	// ErrIO marks a socket-level failure. Fatal to the connection.
	ErrIO = errors.New("io error")
	// ErrProtocol marks a malformed or disallowed packet. Fatal to the connection.
	ErrProtocol = errors.New("protocol error")
	// ErrCodec marks a payload serialize/deserialize failure. Local to the call.
	ErrCodec = errors.New("codec error")
	// ErrCancelled marks cooperative shutdown observed at a suspension point.
	ErrCancelled = errors.New("cancelled")
	// ErrInversion marks an inverse-kinematics step that could not be produced.
	ErrInversion = errors.New("inversion failure")
	// ErrMotion wraps the causal error of an aborted motion.
	ErrMotion = errors.New("motion failure")
)

// Wrap annotates msg and associates it with kind so errors.Is(err, kind) holds.
func Wrap(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}

// Wrapf is Wrap with formatting.
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// WrapCause wraps an underlying cause under one of the sentinel kinds,
// preserving errors.Is/errors.Unwrap for both the kind and the cause.
func WrapCause(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// UserMessage collapses any error produced by this module into the single
// user-visible string mandated by spec §7 for the host-facing boundary.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return "the operation was cancelled"
	case errors.Is(err, ErrInversion):
		return "the target position is unreachable"
	case errors.Is(err, ErrMotion):
		return "the motion could not be completed"
	case errors.Is(err, ErrCodec):
		return "the servo controller returned an unexpected reply"
	case errors.Is(err, ErrProtocol):
		return "the connection to the servo controller was lost"
	case errors.Is(err, ErrIO):
		return "the connection to the servo controller was lost"
	default:
		return "an unexpected error occurred"
	}
}
